package flags

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/Gobusters/ectolinq"

	"github.com/Ramsey-B/sprout/pkg/models"
	"github.com/Ramsey-B/sprout/pkg/normalizers"
	"github.com/Ramsey-B/sprout/pkg/weight"
)

var (
	htmlTagRe      = regexp.MustCompile(`<[^>]*>`)
	htmlEntityRe   = regexp.MustCompile(`&(?:[a-zA-Z]+|#\d+);`)
	repeatedPunct  = regexp.MustCompile(`[!?*~#=_^|]{2,}`)
	promoBracketRe = regexp.MustCompile(`(?i)[\[(]\s*(?:sale|new|deal|promo|special|limited|hot)[^\])]*[\])]`)
	spacesRe       = regexp.MustCompile(`\s+`)
)

// ProposeIssueTags suggests tags from the flag's original scraped fields.
// Proposals are advisory; only ToggleIssueTag applies a tag.
func ProposeIssueTags(flag models.ScraperFlag) []models.IssueTag {
	original := flag.Original
	var proposed []models.IssueTag

	if _, _, ok := weight.Extract(original.Name); ok {
		proposed = append(proposed, models.IssueTagWeightInName)
	}
	if hasGarbage(original.Name) {
		proposed = append(proposed, models.IssueTagGarbageInName)
	}
	if missingFields(original) {
		proposed = append(proposed, models.IssueTagMissingFields)
	}
	if _, ok := suggestedCategory(original); ok {
		proposed = append(proposed, models.IssueTagWrongCategory)
	}
	return proposed
}

func hasGarbage(name string) bool {
	if htmlTagRe.MatchString(name) || htmlEntityRe.MatchString(name) || repeatedPunct.MatchString(name) || promoBracketRe.MatchString(name) {
		return true
	}
	for _, r := range name {
		if isGarbageRune(r) {
			return true
		}
	}
	return false
}

func isGarbageRune(r rune) bool {
	if r == unicode.ReplacementChar {
		return true
	}
	if unicode.IsControl(r) || !unicode.IsPrint(r) {
		return true
	}
	// emoji and pictographs
	return unicode.Is(unicode.So, r) || unicode.Is(unicode.Cs, r)
}

func missingFields(f models.EditableFields) bool {
	if strings.TrimSpace(f.Brand) == "" || strings.TrimSpace(f.Category) == "" || f.THC == nil {
		return true
	}
	if strings.TrimSpace(f.Weight) == "" {
		_, _, inName := weight.Extract(f.Name)
		return !inName
	}
	return false
}

// suggestedCategory returns the category the name's keywords point at when it
// contradicts the scraped category
func suggestedCategory(f models.EditableFields) (string, bool) {
	hint, ok := normalizers.CategoryHint(f.Name)
	if !ok {
		return "", false
	}
	current := normalizers.Category(f.Category)
	if current == "" || current == hint {
		return "", false
	}
	return hint, true
}

// applyTagEdit applies the tag's suggested edit to the working fields
func applyTagEdit(tag models.IssueTag, fields models.EditableFields) models.EditableFields {
	out := fields.Clone()
	switch tag {
	case models.IssueTagWeightInName:
		match, _, ok := weight.Extract(out.Name)
		if !ok {
			return out
		}
		if stripped := tidyName(weight.Strip(out.Name)); stripped != "" {
			out.Name = stripped
		}
		if strings.TrimSpace(out.Weight) == "" {
			out.Weight = match
		}
	case models.IssueTagGarbageInName:
		if cleaned := cleanName(out.Name); cleaned != "" {
			out.Name = cleaned
		}
	case models.IssueTagWrongCategory:
		if hint, ok := normalizers.CategoryHint(out.Name); ok {
			out.Category = hint
		}
	}
	return out
}

func cleanName(name string) string {
	name = htmlTagRe.ReplaceAllString(name, " ")
	name = htmlEntityRe.ReplaceAllString(name, " ")
	name = promoBracketRe.ReplaceAllString(name, " ")
	name = repeatedPunct.ReplaceAllString(name, " ")
	name = strings.Map(func(r rune) rune {
		if isGarbageRune(r) {
			return -1
		}
		return r
	}, name)
	return tidyName(name)
}

func tidyName(name string) string {
	name = spacesRe.ReplaceAllString(name, " ")
	return strings.Trim(name, " -|,/")
}

// orderTags returns the set in vocabulary order without duplicates
func orderTags(tags []models.IssueTag) []models.IssueTag {
	ordered := ectolinq.Filter(models.IssueTags, func(tag models.IssueTag) bool {
		return ectolinq.Contains(tags, tag)
	})
	if ordered == nil {
		return []models.IssueTag{}
	}
	return ordered
}

func withTag(tags []models.IssueTag, tag models.IssueTag) []models.IssueTag {
	return orderTags(append(append([]models.IssueTag(nil), tags...), tag))
}

func withoutTag(tags []models.IssueTag, tag models.IssueTag) []models.IssueTag {
	return orderTags(ectolinq.Filter(tags, func(t models.IssueTag) bool { return t != tag }))
}
