// Package money formats FCFA amounts the way the storefront shows them.
package money

import (
	"strconv"
	"strings"
)

const Currency = "FCFA"

// Formatter groups thousands with Separator. Browsers render fr-FR with a
// narrow no-break space (U+202F); the default here is a plain space.
type Formatter struct {
	Separator string
}

var Default = Formatter{Separator: " "}

// Group renders amount with thousands grouping and no suffix.
func (f Formatter) Group(amount int64) string {
	digits := strconv.FormatInt(amount, 10)
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	if len(digits) <= 3 {
		return sign + digits
	}

	var b strings.Builder
	b.WriteString(sign)
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if i > 0 {
			b.WriteString(f.Separator)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// Format renders "13 000 FCFA".
func (f Formatter) Format(amount int64) string {
	return f.Group(amount) + " " + Currency
}

func FormatFCFA(amount int64) string {
	return Default.Format(amount)
}
