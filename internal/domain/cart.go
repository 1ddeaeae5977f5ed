package domain

import "time"

type CartLine struct {
	Product  Product `json:"product" bson:"product"`
	Quantity int     `json:"quantity" bson:"quantity"`
}

// Subtotal is the unit price times the quantity.
func (l CartLine) Subtotal() int64 {
	return l.Product.Price * int64(l.Quantity)
}

// CartState is the ordered line list plus its derived total.
type CartState struct {
	Lines []CartLine `json:"items" bson:"items"`
	Total int64      `json:"total" bson:"total"`
}

func (s CartState) IsEmpty() bool {
	return len(s.Lines) == 0
}

// Clone returns a copy that shares no slices with s.
func (s CartState) Clone() CartState {
	lines := make([]CartLine, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = l
		if l.Product.Images != nil {
			lines[i].Product.Images = append([]string(nil), l.Product.Images...)
		}
	}
	return CartState{Lines: lines, Total: s.Total}
}

// SumLines re-sums price × quantity over lines.
func SumLines(lines []CartLine) int64 {
	var total int64
	for _, l := range lines {
		total += l.Subtotal()
	}
	return total
}

// Cart is the per-session document kept in MongoDB and Redis.
type Cart struct {
	ID        string    `json:"-" bson:"_id,omitempty"`
	SessionID string    `json:"session_id" bson:"session_id"`
	CartState `bson:",inline"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}
