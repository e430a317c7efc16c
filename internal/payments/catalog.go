package payments

import "sort"

// Package is one purchasable amethyst bundle. PriceCents is in USD cents.
type Package struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Amethyst   int64  `json:"amethyst"`
	PriceCents int64  `json:"price"`
}

var catalog = map[string]Package{
	"starter":  {ID: "starter", Name: "Starter Pack", Amethyst: 1000, PriceCents: 499},
	"premium":  {ID: "premium", Name: "Premium Pack", Amethyst: 5000, PriceCents: 1999},
	"ultimate": {ID: "ultimate", Name: "Ultimate Bundle", Amethyst: 15000, PriceCents: 4999},
}

func LookupPackage(id string) (Package, bool) {
	p, ok := catalog[id]
	return p, ok
}

// Catalog lists the packages ordered by price.
func Catalog() []Package {
	out := make([]Package, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceCents < out[j].PriceCents })
	return out
}
