package storefront

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestIsActiveStatus(t *testing.T) {
	require.True(t, IsActiveStatus("pending", nil))
	require.True(t, IsActiveStatus("Pending", nil))
	require.True(t, IsActiveStatus("PROCESSING", nil))
	require.False(t, IsActiveStatus("delivered", nil))
	require.False(t, IsActiveStatus("", nil))

	// Overriding the allow-list replaces the default entirely.
	require.True(t, IsActiveStatus("Σε εξέλιξη", []string{"σε εξέλιξη"}))
	require.False(t, IsActiveStatus("pending", []string{"shipped"}))
}

func TestCartHelpers(t *testing.T) {
	cart := Cart{Items: []CartItem{
		{Product: Product{ID: "123"}, Quantity: 2},
		{Product: Product{ID: "456"}, Quantity: 1},
	}}

	require.True(t, cart.Contains("123"))
	require.False(t, cart.Contains("789"))
	require.Equal(t, 2, cart.Quantity("123"))
	require.Zero(t, cart.Quantity("789"))
}

func TestDiscounted(t *testing.T) {
	p := Product{
		Price:         decimal.RequireFromString("1.85"),
		OriginalPrice: decimal.RequireFromString("2.10"),
	}
	require.True(t, p.Discounted())

	require.False(t, Product{Price: decimal.RequireFromString("1.85")}.Discounted())
	require.False(t, Product{
		Price:         decimal.RequireFromString("2.10"),
		OriginalPrice: decimal.RequireFromString("2.10"),
	}.Discounted())
}

func TestSearchQueryTerm(t *testing.T) {
	require.True(t, SearchQuery{}.Empty())
	require.Equal(t, "γάλα", SearchQuery{Query: "γάλα"}.Term())
	// EAN wins when both are set.
	require.Equal(t, "5201234567890", SearchQuery{Query: "γάλα", EAN: "5201234567890"}.Term())
}

func TestRankByRelevance(t *testing.T) {
	products := []Product{
		{ID: "1", Name: "Χυμός πορτοκάλι 1lt"},
		{ID: "2", Name: "Φρέσκο γάλα 1lt"},
		{ID: "3", Name: "Γάλα εβαπορέ"},
	}

	RankByRelevance(products, "γάλα εβαπορέ")
	require.Equal(t, "3", products[0].ID)

	// Empty term leaves the vendor order untouched.
	unranked := []Product{{ID: "a"}, {ID: "b"}}
	RankByRelevance(unranked, "")
	require.Equal(t, "a", unranked[0].ID)
	require.Equal(t, "b", unranked[1].ID)
}
