package htmlutil

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestParsePrice(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"1,85 €", "1.85"},
		{"€1.85", "185"},
		{"1.234,56 €", "1234.56"},
		{"799,00&nbsp;€", "799"},
		{"Σύνολο: 4,50 €", "4.5"},
		{"12", "12"},
		{"", "0"},
		{"δωρεάν", "0"},
	}
	for _, c := range cases {
		got := ParsePrice(c.text)
		require.True(t, got.Equal(decimal.RequireFromString(c.want)),
			"ParsePrice(%q) = %s, want %s", c.text, got, c.want)
	}
}

func TestCleanText(t *testing.T) {
	require.Equal(t, "Φρέσκο γάλα 1lt", CleanText("  Φρέσκο \n\t γάλα   1lt  "))
	require.Equal(t, "", CleanText("\n\t  "))
	require.Equal(t, "ab", CleanText("a\u00a0b"), "non-breaking spaces are stripped")
}

func TestGetText(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(
		`<div><span>Φρέσκο</span> <b>γάλα</b></div>`))
	require.NoError(t, err)
	require.Contains(t, GetText(doc), "Φρέσκο γάλα")
}
