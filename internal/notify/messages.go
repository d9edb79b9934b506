package notify

import (
	"fmt"
	"html"
	"strings"

	"esimstore/backend/internal/models"
)

// SaleMessage is the admin notification for a completed sale.
func SaleMessage(order models.Order, voucher models.Voucher) string {
	var b strings.Builder
	b.WriteString("✅ <b>New eSIM sale</b>\n")
	fmt.Fprintf(&b, "Order: <code>%s</code>\n", html.EscapeString(order.ID))
	if order.PlanName != "" {
		fmt.Fprintf(&b, "Plan: %s\n", html.EscapeString(order.PlanName))
	}
	fmt.Fprintf(&b, "Amount: %s %s\n", formatCents(order.AmountCents), html.EscapeString(order.Currency))
	if order.CustomerEmail != "" {
		fmt.Fprintf(&b, "Email: %s\n", html.EscapeString(order.CustomerEmail))
	}
	fmt.Fprintf(&b, "Voucher: <code>%s</code>", html.EscapeString(voucher.ID))
	if voucher.ESIMNumber != "" {
		fmt.Fprintf(&b, "\neSIM: <code>%s</code>", html.EscapeString(voucher.ESIMNumber))
	}
	return b.String()
}

// NoVoucherMessage alerts admins that a paid order has no stock.
func NoVoucherMessage(order models.Order) string {
	var b strings.Builder
	b.WriteString("⚠️ <b>Paid order without voucher</b>\n")
	fmt.Fprintf(&b, "Order: <code>%s</code>\n", html.EscapeString(order.ID))
	if order.PlanName != "" {
		fmt.Fprintf(&b, "Plan: %s\n", html.EscapeString(order.PlanName))
	}
	fmt.Fprintf(&b, "Amount: %s %s\n", formatCents(order.AmountCents), html.EscapeString(order.Currency))
	b.WriteString("Upload new QR codes, the order will complete automatically.")
	return b.String()
}

func formatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
