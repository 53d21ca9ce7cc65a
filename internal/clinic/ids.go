package clinic

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 string. Every entity key uses it.
func NewID() string {
	return uuid.NewString()
}

// InvoiceNumber derives the display number "INV-XXXXXXXX" from a bill id.
// It is never used as a key.
func InvoiceNumber(billID string) string {
	hex := strings.ReplaceAll(billID, "-", "")
	if len(hex) > 8 {
		hex = hex[:8]
	}
	return "INV-" + strings.ToUpper(hex)
}
