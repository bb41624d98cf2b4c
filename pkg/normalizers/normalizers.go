// Package normalizers provides the text normalization used to compare product listings
package normalizers

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Ramsey-B/sprout/pkg/weight"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("fold", FoldAccents)
	Register("strip_weight", weight.Strip)
	Register("remove_punctuation", RemovePunctuation)
	Register("product_stop_words", RemoveProductStopWords)
	Register("brand_suffixes", RemoveBrandSuffixes)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("nproduct", ProductName)
	Register("nbrand", BrandName)
	Register("ncategory", Category)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

var (
	productChain = []string{"lowercase", "fold", "strip_weight", "remove_punctuation", "product_stop_words", "collapse_whitespace"}
	brandChain   = []string{"lowercase", "fold", "remove_punctuation", "brand_suffixes", "collapse_whitespace"}
)

// ProductName normalizes a product name for comparison.
// "The Blue Dream by Zion 3.5g" -> "blue dream zion"
func ProductName(s string) string {
	return ApplyChain(s, productChain...)
}

// BrandName normalizes a brand for comparison. "Zion Cultivar, LLC" -> "zion cultivar"
func BrandName(s string) string {
	return ApplyChain(s, brandChain...)
}

// MatchKey identifies a parent product for the store's uniqueness constraint
func MatchKey(name, brand, category string) string {
	return ProductName(name) + "|" + BrandName(brand) + "|" + Category(category)
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// FoldAccents strips combining marks: "Crème Brûlée" -> "Creme Brulee"
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// RemovePunctuation drops apostrophes and periods and turns every other
// non-alphanumeric rune into a space, so "O.G." and "OG" compare equal.
func RemovePunctuation(s string) string {
	var result strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			result.WriteRune(r)
		case r == '\'' || r == '’' || r == '.':
		default:
			result.WriteRune(' ')
		}
	}
	return result.String()
}

// CollapseWhitespace trims and reduces internal whitespace runs to single spaces
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var productStopWords = map[string]bool{
	"by": true, "the": true, "a": true, "of": true,
	"g": true, "gr": true, "gram": true, "grams": true, "mg": true, "oz": true,
	"pack": true, "pk": true, "ct": true, "count": true, "each": true,
}

var brandSuffixes = map[string]bool{
	"llc": true, "inc": true, "co": true, "ltd": true, "corp": true,
}

// RemoveProductStopWords drops filler words and package-unit tokens
func RemoveProductStopWords(s string) string {
	return dropTokens(s, productStopWords)
}

// RemoveBrandSuffixes drops corporate suffixes
func RemoveBrandSuffixes(s string) string {
	return dropTokens(s, brandSuffixes)
}

func dropTokens(s string, drop map[string]bool) string {
	tokens := strings.Fields(s)
	kept := tokens[:0]
	for _, token := range tokens {
		if !drop[token] {
			kept = append(kept, token)
		}
	}
	return strings.Join(kept, " ")
}
