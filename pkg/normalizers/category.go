package normalizers

import (
	"strings"
	"unicode"
)

var categorySynonyms = map[string]string{
	"flower":       "flower",
	"flowers":      "flower",
	"bud":          "flower",
	"buds":         "flower",
	"preroll":      "preroll",
	"prerolls":     "preroll",
	"joint":        "preroll",
	"joints":       "preroll",
	"vape":         "vape",
	"vapes":        "vape",
	"vaporizer":    "vape",
	"vaporizers":   "vape",
	"cart":         "vape",
	"carts":        "vape",
	"cartridge":    "vape",
	"cartridges":   "vape",
	"edible":       "edible",
	"edibles":      "edible",
	"gummy":        "edible",
	"gummies":      "edible",
	"concentrate":  "concentrate",
	"concentrates": "concentrate",
	"extract":      "concentrate",
	"extracts":     "concentrate",
	"tincture":     "tincture",
	"tinctures":    "tincture",
	"topical":      "topical",
	"topicals":     "topical",
}

// Category maps a scraped category onto the canonical vocabulary.
// Unknown categories are compacted but otherwise kept; empty stays empty.
func Category(s string) string {
	var compact strings.Builder
	for _, r := range strings.ToLower(FoldAccents(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			compact.WriteRune(r)
		}
	}
	key := compact.String()
	if canonical, ok := categorySynonyms[key]; ok {
		return canonical
	}
	return key
}

// keyword order matters: "pre-roll cart" is a vape
var categoryKeywords = []struct {
	keyword  string
	category string
}{
	{"cartridge", "vape"},
	{"cart", "vape"},
	{"vape", "vape"},
	{"pod", "vape"},
	{"disposable", "vape"},
	{"preroll", "preroll"},
	{"joint", "preroll"},
	{"blunt", "preroll"},
	{"gummy", "edible"},
	{"gummies", "edible"},
	{"chocolate", "edible"},
	{"tincture", "tincture"},
	{"shatter", "concentrate"},
	{"rosin", "concentrate"},
	{"badder", "concentrate"},
	{"budder", "concentrate"},
	{"wax", "concentrate"},
	{"diamonds", "concentrate"},
}

// CategoryHint infers a category from keywords in a product name
func CategoryHint(name string) (string, bool) {
	tokens := strings.Fields(RemovePunctuation(strings.ToLower(FoldAccents(strings.ReplaceAll(name, "-", "")))))
	for _, kw := range categoryKeywords {
		for _, token := range tokens {
			if token == kw.keyword || token == kw.keyword+"s" {
				return kw.category, true
			}
		}
	}
	return "", false
}
