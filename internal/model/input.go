package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultLocation = "France"
	DefaultLanguage = "fr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError carries the per-field messages of a rejected input record
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate checks a record against its struct tags
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fe.Namespace()] = fmt.Sprintf("failed %q constraint", fe.Tag())
	}
	return out
}

// ProjectInput is the accepted payload for creating a project
type ProjectInput struct {
	Name          string `json:"name" validate:"required,max=255"`
	Description   string `json:"description" validate:"max=5000"`
	ReferenceSite string `json:"reference_site" validate:"omitempty,max=255,hostname"`
	IsActive      *bool  `json:"is_active"`
}

// ProjectUpdate is the accepted payload for updating a project. Nil fields are left unchanged.
type ProjectUpdate struct {
	Name          *string `json:"name" validate:"omitempty,min=1,max=255"`
	Description   *string `json:"description" validate:"omitempty,max=5000"`
	ReferenceSite *string `json:"reference_site" validate:"omitempty,max=255"`
	IsActive      *bool   `json:"is_active"`
}

// KeywordInput is one keyword of a bulk keyword request
type KeywordInput struct {
	Keyword      string `json:"keyword" validate:"required,max=500"`
	Location     string `json:"location" validate:"max=50"`
	Language     string `json:"language" validate:"max=10"`
	SearchVolume *int   `json:"search_volume" validate:"omitempty,min=0"`
}

// Normalize trims the phrase and applies location/language defaults
func (k *KeywordInput) Normalize() {
	k.Keyword = strings.TrimSpace(k.Keyword)
	k.Location = strings.TrimSpace(k.Location)
	k.Language = strings.TrimSpace(k.Language)
	if k.Location == "" {
		k.Location = DefaultLocation
	}
	if k.Language == "" {
		k.Language = DefaultLanguage
	}
}

// BulkKeywordsInput is the accepted payload for adding keywords to a project
type BulkKeywordsInput struct {
	Keywords []KeywordInput `json:"keywords" validate:"required,min=1,max=1000,dive"`
}

// CompetitorInput is the accepted payload for adding a competitor
type CompetitorInput struct {
	Name        string `json:"name" validate:"required,max=255"`
	Domain      string `json:"domain" validate:"required,max=255"`
	BrandName   string `json:"brand_name" validate:"max=255"`
	IsMainBrand bool   `json:"is_main_brand"`
}
