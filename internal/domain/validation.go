package domain

import (
	"regexp"
	"strings"
)

type ErrorCode string

const (
	CodeRequired      ErrorCode = "REQUIRED"
	CodeInvalidFormat ErrorCode = "INVALID_FORMAT"
)

type FieldError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ValidationErrors maps a field to its current error. Absent means valid.
type ValidationErrors map[Field]FieldError

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// First returns the first invalid field in declaration order.
func (v ValidationErrors) First() (Field, bool) {
	for _, f := range ValidatedFields {
		if _, ok := v[f]; ok {
			return f, true
		}
	}
	return "", false
}

var phonePattern = regexp.MustCompile(`^[0-9+\-\s()]{8,}$`)

var requiredMessages = map[Field]string{
	FieldFirstName: "Prénom requis",
	FieldLastName:  "Nom requis",
	FieldPhone:     "Téléphone requis",
	FieldAddress:   "Adresse requise",
	FieldQuarter:   "Quartier requis",
}

const invalidPhoneMessage = "Téléphone invalide"

// ValidateField checks a single field of info. It returns nil when the field
// is valid or carries no rule.
func ValidateField(f Field, info CustomerInfo) *FieldError {
	msg, ok := requiredMessages[f]
	if !ok {
		return nil
	}

	value := info.Get(f)
	if strings.TrimSpace(value) == "" {
		return &FieldError{Code: CodeRequired, Message: msg}
	}
	if f == FieldPhone && !phonePattern.MatchString(value) {
		return &FieldError{Code: CodeInvalidFormat, Message: invalidPhoneMessage}
	}
	return nil
}

// Validate runs every field rule and returns the full error map.
func Validate(info CustomerInfo) ValidationErrors {
	errs := ValidationErrors{}
	for _, f := range ValidatedFields {
		if fe := ValidateField(f, info); fe != nil {
			errs[f] = *fe
		}
	}
	return errs
}
