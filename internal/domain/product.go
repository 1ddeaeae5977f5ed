package domain

import (
	"encoding/json"
	"fmt"
)

// ProductID is kept as a string. The backend serializes ids as JSON numbers,
// the storefront UI as strings; both decode.
type ProductID string

func (id *ProductID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode product id: %w", err)
		}
		*id = ProductID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode product id: %w", err)
	}
	*id = ProductID(n.String())
	return nil
}

func (id ProductID) String() string {
	return string(id)
}

type Product struct {
	ID          ProductID `json:"id" bson:"id"`
	Name        string    `json:"name" bson:"name"`
	Description string    `json:"description" bson:"description"`
	Price       int64     `json:"price" bson:"price"`
	Images      []string  `json:"images" bson:"images"`
	Category    string    `json:"category" bson:"category"`
	Subcategory string    `json:"subcategory,omitempty" bson:"subcategory,omitempty"`
	Warranty    string    `json:"warranty,omitempty" bson:"warranty,omitempty"`
}

type Category struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Subcategories []string `json:"subcategories,omitempty"`
}

// ProductPage mirrors the backend listing envelope.
type ProductPage struct {
	Products []Product `json:"products"`
	Count    int64     `json:"count"`
}
