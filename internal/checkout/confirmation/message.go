// Package confirmation renders the order summary sent to the support line
// over WhatsApp and holds the record between submission and close.
package confirmation

import (
	"strconv"
	"strings"

	"github.com/roosvelt/autobusiness/internal/domain"
	"github.com/roosvelt/autobusiness/pkg/money"
)

// DefaultSupportPhone receives every order summary.
const DefaultSupportPhone = "237699849474"

const handoffBase = "https://wa.me/"

var separatorLine = strings.Repeat("─", 30)

// Renderer turns an order record into the summary text.
type Renderer struct {
	Money money.Formatter
}

var DefaultRenderer = Renderer{Money: money.Default}

// Render returns the summary, not encoded.
func (r Renderer) Render(order *domain.OrderRecord) string {
	info := order.CustomerInfo
	price := r.Money.Format

	var b strings.Builder
	b.WriteString("🛒 *NOUVELLE COMMANDE - AUTO-BUSINESS*\n\n")

	b.WriteString("👤 *Client:* " + info.FirstName + " " + info.LastName + "\n")
	b.WriteString("📱 *Téléphone:* " + info.Phone + "\n")
	b.WriteString("📍 *Adresse:* " + info.Address + ", " + info.Quarter + ", " + info.City + "\n\n")

	b.WriteString("🛍️ *PRODUITS COMMANDÉS:*\n")
	b.WriteString(separatorLine + "\n\n")

	for i, item := range order.Items {
		b.WriteString(strconv.Itoa(i+1) + ". *" + item.Product.Name + "*\n")
		b.WriteString("   • Prix unitaire: " + price(item.Product.Price) + "\n")
		b.WriteString("   • Quantité: " + strconv.Itoa(item.Quantity) + "\n")
		b.WriteString("   • Sous-total: " + price(item.Subtotal()) + "\n\n")
	}

	b.WriteString(separatorLine + "\n")
	b.WriteString("💰 *TOTAL: " + price(order.Total) + "*\n\n")

	b.WriteString("✅ Merci pour votre commande !")
	return b.String()
}

// Message returns the encoded summary.
func (r Renderer) Message(order *domain.OrderRecord) string {
	return EncodeURIComponent(r.Render(order))
}

func RenderSummary(order *domain.OrderRecord) string {
	return DefaultRenderer.Render(order)
}

func BuildSummaryMessage(order *domain.OrderRecord) string {
	return DefaultRenderer.Message(order)
}

// BuildHandoffURL keeps only the digits of phone.
func BuildHandoffURL(phone, encodedMessage string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	return handoffBase + digits + "?text=" + encodedMessage
}

// EncodeURIComponent percent-encodes every UTF-8 byte of s except
// A-Z a-z 0-9 and - _ . ! ~ * ' ( ).
func EncodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0F])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
