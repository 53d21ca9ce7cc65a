// Package invoice renders, archives and exports settled bills.
package invoice

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/hackgods/clinic-opd/internal/clinic"
)

//go:embed templates/invoice.html
var templateFS embed.FS

var invoiceTmpl = template.Must(
	template.New("invoice.html").
		Funcs(template.FuncMap{"amount": clinic.FormatAmount}).
		ParseFS(templateFS, "templates/invoice.html"),
)

// Render writes the printable HTML invoice for v.
func Render(w io.Writer, v clinic.InvoiceView) error {
	var buf bytes.Buffer
	if err := invoiceTmpl.Execute(&buf, v); err != nil {
		return fmt.Errorf("render invoice %s: %w", v.Bill.Number, err)
	}
	_, err := buf.WriteTo(w)
	return err
}
