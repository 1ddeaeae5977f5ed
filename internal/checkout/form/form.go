// Package form holds the customer details of one checkout, with per-field
// touch tracking. A Form is not safe for concurrent use; the workflow that
// owns it serializes access.
package form

import (
	"errors"
	"fmt"

	"github.com/roosvelt/autobusiness/internal/domain"
)

var ErrUnknownField = errors.New("unknown checkout field")

type FieldState int

const (
	Untouched FieldState = iota
	Touched
)

func (s FieldState) String() string {
	if s == Touched {
		return "touched"
	}
	return "untouched"
}

type Form struct {
	info   domain.CustomerInfo
	errs   domain.ValidationErrors
	states map[domain.Field]FieldState
}

func New() *Form {
	return &Form{
		info:   domain.NewCustomerInfo(),
		errs:   domain.ValidationErrors{},
		states: map[domain.Field]FieldState{},
	}
}

// Set stores value. A touched field is re-validated; an untouched one just
// loses any stale error.
func (f *Form) Set(field domain.Field, value string) error {
	if !field.IsKnown() {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if field == domain.FieldCity && !domain.IsSupportedCity(value) {
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedCity, value)
	}

	f.info = f.info.With(field, value)
	if f.states[field] == Touched {
		f.revalidate(field)
	} else {
		delete(f.errs, field)
	}
	return nil
}

// Blur marks field touched and validates it.
func (f *Form) Blur(field domain.Field) error {
	if !field.IsKnown() {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	f.states[field] = Touched
	f.revalidate(field)
	return nil
}

// Validate touches every validated field and recomputes all errors.
func (f *Form) Validate() domain.ValidationErrors {
	for _, field := range domain.ValidatedFields {
		f.states[field] = Touched
	}
	f.errs = domain.Validate(f.info)
	return f.Errors()
}

func (f *Form) FirstInvalid() (domain.Field, bool) {
	return f.errs.First()
}

// Errors returns a copy of the current error map.
func (f *Form) Errors() domain.ValidationErrors {
	out := make(domain.ValidationErrors, len(f.errs))
	for k, v := range f.errs {
		out[k] = v
	}
	return out
}

func (f *Form) Info() domain.CustomerInfo {
	return f.info
}

func (f *Form) State(field domain.Field) FieldState {
	return f.states[field]
}

// Touched lists the touched fields in display order.
func (f *Form) Touched() []domain.Field {
	var out []domain.Field
	for _, field := range allFields {
		if f.states[field] == Touched {
			out = append(out, field)
		}
	}
	return out
}

// Reset brings the form back to its initial values.
func (f *Form) Reset() {
	f.info = domain.NewCustomerInfo()
	f.errs = domain.ValidationErrors{}
	f.states = map[domain.Field]FieldState{}
}

func (f *Form) revalidate(field domain.Field) {
	if fe := domain.ValidateField(field, f.info); fe != nil {
		f.errs[field] = *fe
		return
	}
	delete(f.errs, field)
}

var allFields = []domain.Field{
	domain.FieldFirstName,
	domain.FieldLastName,
	domain.FieldPhone,
	domain.FieldAddress,
	domain.FieldCity,
	domain.FieldQuarter,
}
