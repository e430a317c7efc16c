package game

// XPPerLevel scales the experience threshold of each level.
const XPPerLevel int64 = 1000

// ApplyLeveling advances at most one level per call. When experience reaches
// level*XPPerLevel the level goes up by one and experience restarts at zero;
// any overflow past the threshold is dropped.
func ApplyLeveling(level, experience int64) (int64, int64) {
	if experience >= level*XPPerLevel {
		return level + 1, 0
	}
	return level, experience
}
