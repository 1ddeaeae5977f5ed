package domain

import (
	"errors"
	"slices"
)

var ErrUnsupportedCity = errors.New("city is not in the delivery list")

// DefaultCity is preselected on every new checkout form.
const DefaultCity = "Yaoundé"

var supportedCities = []string{
	"Yaoundé", "Douala", "Bamenda", "Bafoussam", "Garoua", "Maroua",
	"Ngaoundéré", "Bertoua", "Ebolowa", "Kribi", "Limbe", "Buea",
}

// SupportedCities returns the delivery cities in display order.
func SupportedCities() []string {
	return slices.Clone(supportedCities)
}

func IsSupportedCity(city string) bool {
	return slices.Contains(supportedCities, city)
}

type CustomerInfo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Quarter   string `json:"quarter"`
}

// NewCustomerInfo returns an empty form value with the default city.
func NewCustomerInfo() CustomerInfo {
	return CustomerInfo{City: DefaultCity}
}

// Field names a CustomerInfo input. Values match the JSON keys.
type Field string

const (
	FieldFirstName Field = "firstName"
	FieldLastName  Field = "lastName"
	FieldPhone     Field = "phone"
	FieldAddress   Field = "address"
	FieldCity      Field = "city"
	FieldQuarter   Field = "quarter"
)

// ValidatedFields lists the fields that carry rules, in declaration order.
// City is never validated.
var ValidatedFields = []Field{FieldFirstName, FieldLastName, FieldPhone, FieldAddress, FieldQuarter}

func (f Field) IsKnown() bool {
	switch f {
	case FieldFirstName, FieldLastName, FieldPhone, FieldAddress, FieldCity, FieldQuarter:
		return true
	}
	return false
}

func (c CustomerInfo) Get(f Field) string {
	switch f {
	case FieldFirstName:
		return c.FirstName
	case FieldLastName:
		return c.LastName
	case FieldPhone:
		return c.Phone
	case FieldAddress:
		return c.Address
	case FieldCity:
		return c.City
	case FieldQuarter:
		return c.Quarter
	}
	return ""
}

// With returns a copy of c with f set to value. Unknown fields are ignored.
func (c CustomerInfo) With(f Field, value string) CustomerInfo {
	switch f {
	case FieldFirstName:
		c.FirstName = value
	case FieldLastName:
		c.LastName = value
	case FieldPhone:
		c.Phone = value
	case FieldAddress:
		c.Address = value
	case FieldCity:
		c.City = value
	case FieldQuarter:
		c.Quarter = value
	}
	return c
}
