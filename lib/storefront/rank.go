package storefront

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// RankByRelevance reorders products in place so that names closest to the
// search term come first. Vendors interleave sponsored and loosely-related
// results; Jaro-Winkler similarity pulls the literal matches back to the
// top. The sort is stable so vendor ordering breaks ties.
func RankByRelevance(products []Product, term string) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return
	}

	scores := make([]float64, len(products))
	for i, p := range products {
		scores[i] = matchr.JaroWinkler(strings.ToLower(p.Name), term, false)
	}
	indexed := make([]int, len(products))
	for i := range indexed {
		indexed[i] = i
	}
	sort.SliceStable(indexed, func(a, b int) bool {
		return scores[indexed[a]] > scores[indexed[b]]
	})

	ranked := make([]Product, len(products))
	for pos, idx := range indexed {
		ranked[pos] = products[idx]
	}
	copy(products, ranked)
}
