// Package weight parses free-text package sizes ("3.5g", "1/8 oz", "100mg") into grams.
package weight

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	gramsPerOunce = 28.349523125
	gramsPerPound = 453.59237
)

// Unspecified is the display label of a parent's unknown-weight variant.
const Unspecified = "unspecified"

// DefaultTolerance is the relative tolerance used when comparing variant weights.
const DefaultTolerance = 0.05

var unitFactors = map[string]float64{
	"g":           1,
	"gr":          1,
	"gram":        1,
	"grams":       1,
	"mg":          0.001,
	"milligram":   0.001,
	"milligrams":  0.001,
	"oz":          gramsPerOunce,
	"ounce":       gramsPerOunce,
	"ounces":      gramsPerOunce,
	"ml":          1,
	"milliliter":  1,
	"milliliters": 1,
	"lb":          gramsPerPound,
	"lbs":         gramsPerPound,
	"pound":       gramsPerPound,
	"pounds":      gramsPerPound,
}

// Slang sizes are only honoured when they are the whole input.
var slangSizes = map[string]float64{
	"eighth":     3.5,
	"an eighth":  3.5,
	"quarter":    7,
	"a quarter":  7,
	"quarter oz": 7,
	"half":       14,
	"half oz":    14,
	"half ounce": 14,
	"ounce":      28,
	"zip":        28,
	"half gram":  0.5,
	"gram":       1,
}

const unitPattern = `milligrams|milligram|milliliters|milliliter|ounces|ounce|pounds|pound|grams|gram|lbs|lb|mg|ml|oz|gr|g`

const numberPattern = `\d+\s+\d+/\d+|\d+/\d+|\d*\.\d+|\d+`

var (
	// "2 x 0.5g", "5pk 0.5g", "3 pack 1g"
	multipackRe = regexp.MustCompile(`(?i)\b(\d+)\s*(?:x|pk|pack|ct|count)\s*(` + numberPattern + `)\s*(` + unitPattern + `)\b`)
	// "3.5g", "1/8 oz", "1 1/2 g"
	quantityRe   = regexp.MustCompile(`(?i)(?:^|[^\w.])(` + numberPattern + `)\s*(` + unitPattern + `)\b`)
	bareNumberRe = regexp.MustCompile(`^\s*(` + numberPattern + `)\s*$`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// Parse converts a package-size string into grams. ok is false for empty,
// unknown or garbled input; Parse never panics.
func Parse(text string) (grams float64, ok bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, false
	}

	if g, found := slangSizes[spaceRe.ReplaceAllString(s, " ")]; found {
		return g, true
	}

	if m := bareNumberRe.FindStringSubmatch(s); m != nil {
		return positive(parseNumber(m[1]))
	}

	_, g, found := Extract(s)
	return g, found
}

// Extract finds the first weight expression inside text and returns the
// matched substring together with its value in grams.
func Extract(text string) (match string, grams float64, ok bool) {
	if m := multipackRe.FindStringSubmatchIndex(text); m != nil {
		count, err := strconv.Atoi(text[m[2]:m[3]])
		each, eachOK := parseNumber(text[m[4]:m[5]])
		factor := unitFactors[strings.ToLower(text[m[6]:m[7]])]
		if err == nil && eachOK && count > 0 && factor > 0 {
			if g, valid := positive(float64(count)*each*factor, true); valid {
				return strings.TrimSpace(text[m[0]:m[1]]), g, true
			}
		}
	}

	for _, m := range quantityRe.FindAllStringSubmatchIndex(text, -1) {
		value, valueOK := parseNumber(text[m[2]:m[3]])
		factor := unitFactors[strings.ToLower(text[m[4]:m[5]])]
		if !valueOK || factor == 0 {
			continue
		}
		if g, valid := positive(value*factor, true); valid {
			return strings.TrimSpace(text[m[2]:m[5]]), g, true
		}
	}

	return "", 0, false
}

// Strip removes every recognised weight expression from text.
func Strip(text string) string {
	out := multipackRe.ReplaceAllString(text, " ")
	out = quantityRe.ReplaceAllStringFunc(out, func(m string) string {
		// keep the leading delimiter the pattern consumed
		if len(m) > 0 && !isWeightStart(m[0]) {
			return m[:1] + " "
		}
		return " "
	})
	return strings.TrimSpace(spaceRe.ReplaceAllString(out, " "))
}

// Format renders grams the way variants are labelled ("3.5g", "1g", "100mg").
func Format(grams float64) string {
	if grams <= 0 || math.IsNaN(grams) || math.IsInf(grams, 0) {
		return Unspecified
	}
	if grams < 0.5 && math.Abs(grams*1000-math.Round(grams*1000)) < 1e-6 {
		return strconv.FormatFloat(math.Round(grams*1000), 'f', -1, 64) + "mg"
	}
	return strconv.FormatFloat(math.Round(grams*100)/100, 'f', -1, 64) + "g"
}

// WithinTolerance reports whether a and b differ by at most rel relative to the larger value.
func WithinTolerance(a, b, rel float64) bool {
	if a == b {
		return true
	}
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return true
	}
	return math.Abs(a-b)/larger <= rel
}

func isWeightStart(c byte) bool {
	return c == '.' || (c >= '0' && c <= '9')
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if whole, frac, found := strings.Cut(s, " "); found {
		w, wok := parseNumber(whole)
		f, fok := parseNumber(strings.TrimSpace(frac))
		return w + f, wok && fok
	}
	if num, den, found := strings.Cut(s, "/"); found {
		n, nerr := strconv.ParseFloat(num, 64)
		d, derr := strconv.ParseFloat(den, 64)
		if nerr != nil || derr != nil || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func positive(v float64, ok bool) (float64, bool) {
	if !ok || v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
