package invoice

import (
	"fmt"
	"io"

	"github.com/360EntSecGroup-Skylar/excelize"

	"github.com/hackgods/clinic-opd/internal/clinic"
)

// BillsSheet is the worksheet ExportBills writes to.
const BillsSheet = "Bills"

var exportHeaders = []string{"Invoice", "Date", "Patient", "Payment Method", "Items", "Total", "Status"}

// ExportBills writes bills as an .xlsx workbook, one row per bill.
// patientNames maps patient id to display name; unknown ids keep the id.
func ExportBills(w io.Writer, bills []clinic.Bill, patientNames map[string]string) error {
	file := excelize.NewFile()
	index := file.NewSheet(BillsSheet)
	file.DeleteSheet("Sheet1")
	file.SetActiveSheet(index)

	for i, h := range exportHeaders {
		file.SetCellValue(BillsSheet, cell(i, 1), h)
	}
	for i, b := range bills {
		appendBillRow(file, i+2, b, patientNames)
	}

	if err := file.Write(w); err != nil {
		return fmt.Errorf("write bills workbook: %w", err)
	}
	return nil
}

func appendBillRow(file *excelize.File, row int, b clinic.Bill, patientNames map[string]string) {
	patient := b.PatientID
	if name, ok := patientNames[b.PatientID]; ok {
		patient = name
	}
	values := []any{
		b.Number,
		b.Date,
		patient,
		string(b.PaymentMethod),
		len(b.Items),
		b.Total,
		string(b.Status),
	}
	for col, v := range values {
		file.SetCellValue(BillsSheet, cell(col, row), v)
	}
}

// cell maps a zero-based column and one-based row to an A1 reference.
func cell(col, row int) string {
	return fmt.Sprintf("%c%d", 'A'+col, row)
}
