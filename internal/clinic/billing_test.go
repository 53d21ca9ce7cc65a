package clinic

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultItems(t *testing.T) {
	items := DefaultItems(Tenant{})
	assert.Equal(t, []LineItem{
		{Description: "Consultation Fee", Amount: 500},
		{Description: "Platform Fee", Amount: 200},
	}, items)
	assert.Equal(t, 700.0, Total(items))

	items = DefaultItems(Tenant{ConsultationFee: 650, PlatformFee: 0})
	assert.Equal(t, 850.0, Total(items))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "700.00", FormatAmount(700))
	assert.Equal(t, "0.30", FormatAmount(0.1+0.2))
}

func TestParsePaymentMethod(t *testing.T) {
	for _, raw := range []string{"Cash", "UPI", "Card"} {
		m, err := ParsePaymentMethod(raw)
		require.NoError(t, err)
		assert.Equal(t, PaymentMethod(raw), m)
	}
	_, err := ParsePaymentMethod("Cheque")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = ParsePaymentMethod("")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSettleWithDefaultSchedule(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.completed(t, "2026-03-14", "09:30")

	pending, err := f.svc.PendingInvoices(ctx, f.reception)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, c.Appointment.ID, pending[0].Appointment.ID)

	draft, err := f.svc.DraftInvoice(ctx, f.reception, c.Appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, 700.0, draft.Total)

	bill, err := f.svc.Settle(ctx, f.reception, SettleRequest{
		AppointmentID: c.Appointment.ID,
		PaymentMethod: PaymentUPI,
	})
	require.NoError(t, err)
	assert.Equal(t, 700.0, bill.Total)
	assert.Equal(t, BillPaid, bill.Status)
	assert.Equal(t, PaymentUPI, bill.PaymentMethod)
	assert.Equal(t, f.patient.ID, bill.PatientID)
	assert.Equal(t, "2026-03-14", bill.Date)
	assert.Equal(t, f.reception.UserID, bill.CreatedBy)
	assert.Equal(t, InvoiceNumber(bill.ID), bill.Number)
	assert.Len(t, bill.Items, 2)

	pending, err = f.svc.PendingInvoices(ctx, f.reception)
	require.NoError(t, err)
	assert.Empty(t, pending)

	bills, err := f.svc.ListBills(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, bills, 1)
	assert.Equal(t, bill.ID, bills[0].ID)
}

func TestSettleUsesTenantFees(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	fee := 800.0
	_, err := f.svc.UpdateSettings(ctx, f.admin, SettingsUpdate{ConsultationFee: &fee})
	require.NoError(t, err)

	c := f.completed(t, "2026-03-14", "09:30")
	bill, err := f.svc.Settle(ctx, f.reception, SettleRequest{AppointmentID: c.Appointment.ID, PaymentMethod: PaymentCash})
	require.NoError(t, err)
	assert.Equal(t, 1000.0, bill.Total)
}

func TestSettleCustomItems(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.completed(t, "2026-03-14", "09:30")

	bill, err := f.svc.Settle(ctx, f.reception, SettleRequest{
		AppointmentID: c.Appointment.ID,
		PaymentMethod: PaymentCard,
		Items: []LineItem{
			{Description: "Consultation Fee", Amount: 500},
			{Description: "Nebulization", Amount: 150.5},
			{Description: "Discount voucher", Amount: 0},
		},
	})
	require.NoError(t, err)
	assert.InDelta(t, 650.5, bill.Total, 0.0001)
	assert.Len(t, bill.Items, 3)
}

func TestSettleValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.completed(t, "2026-03-14", "09:30")

	tests := []struct {
		name string
		req  SettleRequest
	}{
		{"missing appointment", SettleRequest{PaymentMethod: PaymentCash}},
		{"unknown method", SettleRequest{AppointmentID: c.Appointment.ID, PaymentMethod: "Cheque"}},
		{"empty items", SettleRequest{AppointmentID: c.Appointment.ID, PaymentMethod: PaymentCash, Items: []LineItem{}}},
		{"negative amount", SettleRequest{
			AppointmentID: c.Appointment.ID,
			PaymentMethod: PaymentCash,
			Items:         []LineItem{{Description: "Refund", Amount: -10}},
		}},
		{"blank description", SettleRequest{
			AppointmentID: c.Appointment.ID,
			PaymentMethod: PaymentCash,
			Items:         []LineItem{{Description: " ", Amount: 10}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Settle(ctx, f.reception, tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Zero(t, f.count(t, "bills"))
}

func TestSettleRejectsUnfinishedVisit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.checkedIn(t, "2026-03-14", "09:30")

	_, err := f.svc.Settle(ctx, f.reception, SettleRequest{AppointmentID: appt.ID, PaymentMethod: PaymentCash})
	assert.ErrorIs(t, err, ErrNotBillable)

	_, err = f.svc.DraftInvoice(ctx, f.reception, appt.ID)
	assert.ErrorIs(t, err, ErrNotBillable)

	_, err = f.svc.Settle(ctx, f.reception, SettleRequest{AppointmentID: NewID(), PaymentMethod: PaymentCash})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestSettleTwice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.completed(t, "2026-03-14", "09:30")
	req := SettleRequest{AppointmentID: c.Appointment.ID, PaymentMethod: PaymentCash}

	_, err := f.svc.Settle(ctx, f.reception, req)
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, f.admin, req)
	assert.ErrorIs(t, err, ErrAlreadyBilled)
	_, err = f.svc.DraftInvoice(ctx, f.reception, c.Appointment.ID)
	assert.ErrorIs(t, err, ErrAlreadyBilled)

	assert.Equal(t, 1, f.count(t, "bills"))
}

func TestConcurrentSettleCreatesOneBill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.completed(t, "2026-03-14", "09:30")

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Settle(ctx, f.reception, SettleRequest{AppointmentID: c.Appointment.ID, PaymentMethod: PaymentCash})
			if err == nil {
				mu.Lock()
				settled++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, ErrAlreadyBilled) || errors.Is(err, ErrAppointmentBusy), "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	assert.Equal(t, 1, f.count(t, "bills"))
}

func TestSettleForbiddenRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.completed(t, "2026-03-14", "09:30")
	req := SettleRequest{AppointmentID: c.Appointment.ID, PaymentMethod: PaymentCash}

	_, err := f.svc.Settle(ctx, f.doctor, req)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Settle(ctx, f.pharmacist, req)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, f.count(t, "bills"))
}

func TestPendingInvoicesNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.completed(t, "2026-03-13", "16:00")
	latest := f.completed(t, "2026-03-14", "11:00")
	f.completed(t, "2026-03-14", "09:30")
	f.book(t, "2026-03-15", "09:00")

	pending, err := f.svc.PendingInvoices(ctx, f.reception)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, latest.Appointment.ID, pending[0].Appointment.ID)
	assert.Equal(t, "2026-03-14", pending[1].Appointment.Date)
	assert.Equal(t, "09:30", pending[1].Appointment.Time)
	assert.Equal(t, "2026-03-13", pending[2].Appointment.Date)
}

type recordingArchiver struct {
	mu    sync.Mutex
	views []InvoiceView
	err   error
}

func (a *recordingArchiver) ArchiveInvoice(ctx context.Context, inv InvoiceView) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.views = append(a.views, inv)
	return a.err
}

func TestSettleArchivesInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	archiver := &recordingArchiver{}
	f.svc.SetArchiver(archiver)

	c := f.completed(t, "2026-03-14", "09:30")
	bill, err := f.svc.Settle(ctx, f.reception, SettleRequest{AppointmentID: c.Appointment.ID, PaymentMethod: PaymentCash})
	require.NoError(t, err)

	require.Len(t, archiver.views, 1)
	view := archiver.views[0]
	assert.Equal(t, bill.ID, view.Bill.ID)
	assert.Equal(t, "Sunrise Clinic", view.Tenant.Name)
	assert.Equal(t, "Kiran Shah", view.Patient.FullName())
	require.NotNil(t, view.Record)
	assert.Equal(t, "Flu", view.Record.Diagnosis)
	require.NotNil(t, view.Prescription)
	assert.Len(t, view.Prescription.Medicines, 1)
}

func TestSettleSurvivesArchiveFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.svc.SetArchiver(&recordingArchiver{err: errors.New("bucket unavailable")})

	c := f.completed(t, "2026-03-14", "09:30")
	_, err := f.svc.Settle(ctx, f.reception, SettleRequest{AppointmentID: c.Appointment.ID, PaymentMethod: PaymentCash})
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(t, "bills"))
}

func TestInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.completed(t, "2026-03-14", "09:30")
	bill, err := f.svc.Settle(ctx, f.reception, SettleRequest{AppointmentID: c.Appointment.ID, PaymentMethod: PaymentCard})
	require.NoError(t, err)

	view, err := f.svc.Invoice(ctx, f.reception, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Appointment.ID, view.Appointment.ID)
	assert.Equal(t, StatusCompleted, view.Appointment.Status)
	assert.Equal(t, c.Prescription.ID, view.Prescription.ID)

	_, err = f.svc.Invoice(ctx, f.reception, NewID())
	assert.ErrorIs(t, err, ErrBillNotFound)
	_, err = f.svc.Invoice(ctx, f.pharmacist, bill.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSweepPendingInvoices(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.completed(t, "2026-03-14", "09:30")
	f.completed(t, "2026-03-14", "10:00")

	other, _, err := f.svc.Signup(ctx, SignupRequest{
		ClinicName: "Hilltop Clinic",
		AdminName:  "Nora",
		Email:      "nora@hilltop.test",
		Password:   "password123",
	})
	require.NoError(t, err)

	backlog, err := f.svc.SweepPendingInvoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{f.tenant.ID: 2, other.ID: 0}, backlog)

	_, err = f.svc.Settle(ctx, f.reception, SettleRequest{AppointmentID: c.Appointment.ID, PaymentMethod: PaymentCash})
	require.NoError(t, err)

	backlog, err = f.svc.SweepPendingInvoices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, backlog[f.tenant.ID])
}

func TestInvoiceNumber(t *testing.T) {
	assert.Equal(t, "INV-3F2A9C1D", InvoiceNumber("3f2a9c1d-0b7e-4c55-9a0e-2d1f6b8e4a70"))
	assert.Equal(t, "INV-AB", InvoiceNumber("ab"))
}
