// Package validation validates caller input before any write is attempted.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	apierrors "github.com/devrev/querysync/internal/errors"
	"github.com/devrev/querysync/internal/model"
)

// Validator validates query operations
type Validator struct {
	maxContentLength int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxContentLength: model.MaxContentLength,
	}
}

// NewValidatorWithLimits creates a validator with a custom content limit
func NewValidatorWithLimits(maxContentLength int) *Validator {
	return &Validator{
		maxContentLength: maxContentLength,
	}
}

// ValidateContent validates the content of a query to be created
func (v *Validator) ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apierrors.InvalidField("content", "content is required")
	}

	if n := utf8.RuneCountInString(content); n > v.maxContentLength {
		return apierrors.InvalidField("content",
			fmt.Sprintf("content length %d exceeds maximum %d", n, v.maxContentLength))
	}

	if !utf8.ValidString(content) {
		return apierrors.InvalidField("content", "content must be valid UTF-8")
	}

	return nil
}
