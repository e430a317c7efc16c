package cache

import (
	"context"
	"testing"
	"time"
)

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"":                                    "",
		"  redis://localhost:6379  ":          "redis://localhost:6379",
		"redis-cli -u redis://u:p@h:6379":     "redis://u:p@h:6379",
		"redis-cli --tls -u rediss://u:p@h:1": "rediss://u:p@h:1",
		`"redis://h:6379" extra`:              "redis://h:6379",
		"localhost:6379":                      "localhost:6379",
	}
	for in, want := range cases {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConnectEmptyURL(t *testing.T) {
	rdb, err := Connect(context.Background(), "   ")
	if err != nil || rdb != nil {
		t.Fatalf("Connect(empty) = %v, %v; want nil, nil", rdb, err)
	}
}

func TestNilJSONIsAlwaysMiss(t *testing.T) {
	c := NewJSON(nil, "x:")
	if c != nil {
		t.Fatal("expected nil cache for nil client")
	}
	var out map[string]int
	ok, err := c.Get(context.Background(), "k", &out)
	if ok || err != nil {
		t.Fatalf("Get on nil cache = %v, %v", ok, err)
	}
	if err := c.Set(context.Background(), "k", 1, time.Second); err != nil {
		t.Fatalf("Set on nil cache: %v", err)
	}
}
