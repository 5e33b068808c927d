package util

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatRupees renders an amount with thousands separators, e.g. ₹500,000.
func FormatRupees(amount int) string {
	return "₹" + message.NewPrinter(language.English).Sprintf("%d", amount)
}
