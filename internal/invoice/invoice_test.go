package invoice

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/360EntSecGroup-Skylar/excelize"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-opd/internal/clinic"
)

func sampleView() clinic.InvoiceView {
	bill := clinic.Bill{
		ID:            "3f2a9c1d-0b7e-4c55-9a0e-2d1f6b8e4a70",
		Number:        "INV-3F2A9C1D",
		TenantID:      "t1",
		PatientID:     "p1",
		AppointmentID: "a1",
		Date:          "2026-03-14",
		Items:         clinic.DefaultItems(clinic.Tenant{}),
		Total:         700,
		PaymentMethod: clinic.PaymentUPI,
		Status:        clinic.BillPaid,
	}
	return clinic.InvoiceView{
		Tenant:  clinic.Tenant{ID: "t1", Name: "Sunrise <Clinic>"},
		Bill:    bill,
		Patient: clinic.Patient{ID: "p1", FirstName: "Kiran", LastName: "Shah", Phone: "+91 98200 00000"},
		Appointment: clinic.Appointment{
			ID:         "a1",
			DoctorName: "Dr. Ravi Rao",
			Date:       "2026-03-14",
			Time:       "09:30",
			Status:     clinic.StatusCompleted,
			Vitals: &clinic.Vitals{
				BP: "120/80", Temp: "98.6", Pulse: "72", Weight: "64", SpO2: "98", SugarLevel: "N/A",
			},
		},
		Record: &clinic.MedicalRecord{Diagnosis: "Flu", Notes: "Rest and fluids"},
		Prescription: &clinic.Prescription{Medicines: []clinic.Medicine{{
			Name:         "Paracetamol",
			Dosage:       "1-0-0-1",
			Duration:     "5 Days",
			Instructions: "After Food",
		}}},
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleView()))
	html := buf.String()

	assert.Contains(t, html, "INV-3F2A9C1D")
	assert.Contains(t, html, "Sunrise &lt;Clinic&gt;")
	assert.Contains(t, html, "Kiran Shah")
	assert.Contains(t, html, "Consultation Fee")
	assert.Contains(t, html, "500.00")
	assert.Contains(t, html, "700.00")
	assert.Contains(t, html, "Diagnosis:</strong> Flu")
	assert.Contains(t, html, "<td>1-0-0-1</td>")
	assert.Contains(t, html, "Notes:</strong> Rest and fluids")
	assert.Contains(t, html, "<td>120/80</td><td>98.6</td><td>72</td><td>64</td><td>98</td><td>N/A</td>")
}

func TestRenderWithoutRecord(t *testing.T) {
	v := sampleView()
	v.Record = nil
	v.Prescription = nil
	v.Appointment.Vitals = nil

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, v))
	assert.NotContains(t, buf.String(), "Diagnosis")
	assert.NotContains(t, buf.String(), "Prescription")
	assert.NotContains(t, buf.String(), "Vitals")
}

type mockS3 struct {
	puts []*s3.PutObjectInput
	body []byte
	err  error
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.body, _ = io.ReadAll(in.Body)
	m.puts = append(m.puts, in)
	return &s3.PutObjectOutput{}, nil
}

func TestArchiveInvoice(t *testing.T) {
	mock := &mockS3{}
	a := NewArchiver(mock, "clinic-invoices", zerolog.Nop())
	require.True(t, a.Enabled())

	require.NoError(t, a.ArchiveInvoice(context.Background(), sampleView()))
	require.Len(t, mock.puts, 1)

	put := mock.puts[0]
	assert.Equal(t, "clinic-invoices", *put.Bucket)
	assert.Equal(t, "invoices/t1/2026/03/INV-3F2A9C1D.html", *put.Key)
	assert.Equal(t, "text/html; charset=utf-8", *put.ContentType)
	assert.Equal(t, "a1", put.Metadata["appointment-id"])
	assert.Contains(t, string(mock.body), "INV-3F2A9C1D")
}

func TestArchiveDisabledWithoutBucket(t *testing.T) {
	mock := &mockS3{}
	a := NewArchiver(mock, "", zerolog.Nop())
	assert.False(t, a.Enabled())
	require.NoError(t, a.ArchiveInvoice(context.Background(), sampleView()))
	assert.Empty(t, mock.puts)

	var nilArchiver *Archiver
	assert.False(t, nilArchiver.Enabled())
}

func TestArchivePutFailure(t *testing.T) {
	boom := errors.New("access denied")
	a := NewArchiver(&mockS3{err: boom}, "clinic-invoices", zerolog.Nop())

	err := a.ArchiveInvoice(context.Background(), sampleView())
	assert.ErrorIs(t, err, boom)
}

func TestExportBills(t *testing.T) {
	v := sampleView()
	second := v.Bill
	second.ID = "b2"
	second.Number = "INV-B2"
	second.PatientID = "p-unknown"
	second.PaymentMethod = clinic.PaymentCash
	second.Total = 650.5

	var buf bytes.Buffer
	require.NoError(t, ExportBills(&buf, []clinic.Bill{v.Bill, second}, map[string]string{"p1": "Kiran Shah"}))

	file, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	rows := file.GetRows(BillsSheet)
	require.Len(t, rows, 3)

	assert.Equal(t, "Invoice", rows[0][0])
	assert.Equal(t, "Total", rows[0][5])

	assert.Equal(t, "INV-3F2A9C1D", rows[1][0])
	assert.Equal(t, "2026-03-14", rows[1][1])
	assert.Equal(t, "Kiran Shah", rows[1][2])
	assert.Equal(t, "UPI", rows[1][3])
	assert.Equal(t, "2", rows[1][4])
	assert.Equal(t, "700", rows[1][5])

	assert.Equal(t, "p-unknown", rows[2][2])
	assert.Equal(t, "650.5", rows[2][5])
}

func TestCell(t *testing.T) {
	assert.Equal(t, "A1", cell(0, 1))
	assert.Equal(t, "G12", cell(6, 12))
}
