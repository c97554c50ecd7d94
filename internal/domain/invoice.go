package domain

import (
	"fmt"
	"time"
)

// FormatInvoiceNumber builds a sequential daily invoice number such as
// INV-20250115-0042. seq is 1-based within the calendar day of t.
func FormatInvoiceNumber(t time.Time, seq int) string {
	return fmt.Sprintf("INV-%s-%04d", t.Format("20060102"), seq)
}
