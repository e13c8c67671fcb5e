// Package htmlutil holds the scraping helpers shared by the site
// clients: node text extraction and parsing of Greek-formatted prices.
package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

// CleanText strips non-printable characters and collapses runs of
// whitespace, the usual state of text nodes in rendered storefront HTML.
func CleanText(s string) string {
	var b strings.Builder
	for _, c := range s {
		if unicode.IsPrint(c) {
			b.WriteRune(c)
		}
	}
	out := strings.TrimSpace(b.String())
	return innerWhitespace.ReplaceAllString(out, " ")
}

var priceDigits = regexp.MustCompile(`(\d+(?:\.\d+)?)`)

// ParsePrice extracts a decimal amount from vendor price text. Greek
// sites render prices as "1.234,56 €": thousands dots, decimal comma,
// currency glyph in either position. Returns zero when no amount is
// found rather than failing the surrounding parse.
func ParsePrice(text string) decimal.Decimal {
	normalized := strings.ReplaceAll(text, ".", "")
	normalized = strings.ReplaceAll(normalized, ",", ".")
	match := priceDigits.FindString(normalized)
	if match == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(match)
	if err != nil {
		return decimal.Zero
	}
	return d
}
