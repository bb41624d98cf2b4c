package flags

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/sprout/pkg/models"
)

// Edits are reviewer overrides. Nil fields keep the flag's current value; an empty
// string clears an optional text field.
type Edits struct {
	Name     *string  `json:"name,omitempty"`
	Brand    *string  `json:"brand,omitempty"`
	Category *string  `json:"category,omitempty"`
	THC      *float64 `json:"thc,omitempty"`
	CBD      *float64 `json:"cbd,omitempty"`
	Weight   *string  `json:"weight,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	URL      *string  `json:"url,omitempty"`
}

// Apply returns fields with the edits laid over them
func (e *Edits) Apply(fields models.EditableFields) models.EditableFields {
	out := fields.Clone()
	if e == nil {
		return out
	}
	if e.Name != nil {
		out.Name = strings.TrimSpace(*e.Name)
	}
	if e.Brand != nil {
		out.Brand = strings.TrimSpace(*e.Brand)
	}
	if e.Category != nil {
		out.Category = strings.TrimSpace(*e.Category)
	}
	if e.THC != nil {
		v := *e.THC
		out.THC = &v
	}
	if e.CBD != nil {
		v := *e.CBD
		out.CBD = &v
	}
	if e.Weight != nil {
		out.Weight = strings.TrimSpace(*e.Weight)
	}
	if e.Price != nil {
		v := *e.Price
		out.Price = &v
	}
	if e.URL != nil {
		out.URL = strings.TrimSpace(*e.URL)
	}
	return out
}

// productFields carries the product column constraints the final reviewed values must meet
type productFields struct {
	Name     string   `json:"name" validate:"required,max=255"`
	Brand    string   `json:"brand" validate:"max=255"`
	Category string   `json:"category" validate:"max=64"`
	THC      *float64 `json:"thc" validate:"omitempty,gte=0,lte=100"`
	CBD      *float64 `json:"cbd" validate:"omitempty,gte=0,lte=100"`
	Weight   string   `json:"weight" validate:"omitempty,max=64"`
	Price    *float64 `json:"price" validate:"omitempty,gte=0"`
	URL      string   `json:"url" validate:"omitempty,url,max=2048"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateFields checks reviewed values against the product field types
func validateFields(fields models.EditableFields) error {
	err := validate.Struct(productFields{
		Name:     fields.Name,
		Brand:    fields.Brand,
		Category: fields.Category,
		THC:      fields.THC,
		CBD:      fields.CBD,
		Weight:   fields.Weight,
		Price:    fields.Price,
		URL:      fields.URL,
	})
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Message: ruleMessage(fe)}
	}
	return err
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "url":
		return "must be a valid URL"
	}
	return fmt.Sprintf("failed rule %q", fe.Tag())
}

// validateTags rejects tags outside the vocabulary
func validateTags(tags []models.IssueTag) error {
	for _, tag := range tags {
		if !tag.Valid() {
			return &ValidationError{Field: "issue_tags", Message: fmt.Sprintf("unknown tag %q", tag)}
		}
	}
	return nil
}
