package clinic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/hackgods/clinic-opd/internal/authz"
	"github.com/hackgods/clinic-opd/internal/session"
)

const (
	DefaultConsultationFee = 500.0
	DefaultPlatformFee     = 200.0

	consultationFeeLabel = "Consultation Fee"
	platformFeeLabel     = "Platform Fee"
)

// DefaultItems materializes the tenant fee schedule. A zero fee falls back
// to the platform default.
func DefaultItems(t Tenant) []LineItem {
	consultation := t.ConsultationFee
	if consultation <= 0 {
		consultation = DefaultConsultationFee
	}
	platform := t.PlatformFee
	if platform <= 0 {
		platform = DefaultPlatformFee
	}
	return []LineItem{
		{Description: consultationFeeLabel, Amount: consultation},
		{Description: platformFeeLabel, Amount: platform},
	}
}

// Total sums item amounts. Rounding happens only when displayed.
func Total(items []LineItem) float64 {
	var sum float64
	for _, it := range items {
		sum += it.Amount
	}
	return sum
}

// FormatAmount renders an amount with two decimals.
func FormatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	for _, m := range []PaymentMethod{PaymentCash, PaymentUPI, PaymentCard} {
		if string(m) == raw {
			return m, nil
		}
	}
	return "", invalid("paymentMethod", "must be Cash, UPI or Card")
}

func validateItems(items []LineItem) error {
	if len(items) == 0 {
		return invalid("items", "must contain at least one line")
	}
	for i, it := range items {
		if strings.TrimSpace(it.Description) == "" {
			return invalid(fmt.Sprintf("items[%d].description", i), "is required")
		}
		if it.Amount < 0 || math.IsNaN(it.Amount) || math.IsInf(it.Amount, 0) {
			return invalid(fmt.Sprintf("items[%d].amount", i), "must be a non-negative number")
		}
	}
	return nil
}

// PendingInvoice is a completed appointment that has no bill yet.
type PendingInvoice struct {
	Appointment Appointment `json:"appointment"`
}

// PendingInvoices returns Completed appointments without a bill, newest first.
func (s *Service) PendingInvoices(ctx context.Context, sess session.Session) ([]PendingInvoice, error) {
	if err := s.authorize(sess, authz.ViewBilling); err != nil {
		return nil, err
	}
	appts, err := s.pending(ctx, s.repo, sess.TenantID)
	if err != nil {
		return nil, err
	}
	out := make([]PendingInvoice, 0, len(appts))
	for _, a := range appts {
		out = append(out, PendingInvoice{Appointment: a})
	}
	return out, nil
}

func (s *Service) pending(ctx context.Context, repo Repository, tenantID string) ([]Appointment, error) {
	completed, err := repo.ListAppointments(ctx, tenantID, AppointmentFilter{Status: StatusCompleted})
	if err != nil {
		return nil, err
	}
	bills, err := repo.ListBills(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	billed := make(map[string]bool, len(bills))
	for _, b := range bills {
		billed[b.AppointmentID] = true
	}

	var out []Appointment
	for _, a := range completed {
		if !billed[a.ID] {
			out = append(out, a)
		}
	}
	sortByVisitDesc(out, func(a Appointment) (string, string) { return a.Date, a.Time })
	return out, nil
}

// Draft is the candidate invoice shown before settlement.
type Draft struct {
	Appointment Appointment `json:"appointment"`
	Items       []LineItem  `json:"items"`
	Total       float64     `json:"total"`
}

func (s *Service) DraftInvoice(ctx context.Context, sess session.Session, appointmentID string) (*Draft, error) {
	if err := s.authorize(sess, authz.ViewBilling); err != nil {
		return nil, err
	}
	appt, err := s.billable(ctx, s.repo, sess.TenantID, appointmentID)
	if err != nil {
		return nil, err
	}
	tenant, err := s.repo.GetTenant(ctx, sess.TenantID)
	if err != nil {
		return nil, err
	}
	items := DefaultItems(*tenant)
	return &Draft{Appointment: *appt, Items: items, Total: Total(items)}, nil
}

// billable loads the appointment and checks it is Completed and unbilled.
func (s *Service) billable(ctx context.Context, repo Repository, tenantID, appointmentID string) (*Appointment, error) {
	appt, err := repo.GetAppointment(ctx, tenantID, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotBillable, appt.Status)
	}
	if _, err := repo.GetBillForAppointment(ctx, tenantID, appointmentID); err == nil {
		return nil, ErrAlreadyBilled
	} else if !errors.Is(err, ErrBillNotFound) {
		return nil, fmt.Errorf("check existing bill: %w", err)
	}
	return appt, nil
}

type SettleRequest struct {
	AppointmentID string        `json:"appointmentId"`
	Items         []LineItem    `json:"items"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
}

// Settle records the bill for a completed appointment. Omitted items fall
// back to the tenant fee schedule. At most one bill per appointment commits.
func (s *Service) Settle(ctx context.Context, sess session.Session, req SettleRequest) (*Bill, error) {
	if err := s.authorize(sess, authz.SettleBill); err != nil {
		return nil, err
	}
	bill, err := s.settle(ctx, sess, req)
	s.metrics.ObserveSettlement(string(req.PaymentMethod), settlementResult(err))
	if err != nil {
		return nil, err
	}

	s.logEvent(sess, EventBillSettled, map[string]any{
		"bill_id":        bill.ID,
		"number":         bill.Number,
		"appointment_id": bill.AppointmentID,
		"total":          bill.Total,
		"payment_method": string(bill.PaymentMethod),
	})

	if s.archiver != nil {
		if view, err := s.invoiceView(ctx, sess.TenantID, bill); err != nil {
			s.logger.Warn().Err(err).Str("bill_id", bill.ID).Msg("build invoice for archive")
		} else if err := s.archiver.ArchiveInvoice(ctx, *view); err != nil {
			s.logger.Warn().Err(err).Str("bill_id", bill.ID).Msg("archive invoice")
		}
	}
	return bill, nil
}

func (s *Service) settle(ctx context.Context, sess session.Session, req SettleRequest) (*Bill, error) {
	if strings.TrimSpace(req.AppointmentID) == "" {
		return nil, invalid("appointmentId", "is required")
	}
	method, err := ParsePaymentMethod(string(req.PaymentMethod))
	if err != nil {
		return nil, err
	}

	items := req.Items
	if items == nil {
		tenant, err := s.repo.GetTenant(ctx, sess.TenantID)
		if err != nil {
			return nil, err
		}
		items = DefaultItems(*tenant)
	}
	if err := validateItems(items); err != nil {
		return nil, err
	}

	var created *Bill
	err = s.withAppointmentLock(ctx, sess.TenantID, req.AppointmentID, func(lockCtx context.Context) error {
		return s.repo.WithinTx(lockCtx, func(ctx context.Context, tx Repository) error {
			appt, err := s.billable(ctx, tx, sess.TenantID, req.AppointmentID)
			if err != nil {
				return err
			}
			created, err = tx.CreateBill(ctx, Bill{
				TenantID:      sess.TenantID,
				PatientID:     appt.PatientID,
				AppointmentID: appt.ID,
				Date:          s.today(),
				Items:         items,
				Total:         Total(items),
				PaymentMethod: method,
				Status:        BillPaid,
				CreatedBy:     sess.UserID,
			})
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func settlementResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyBilled):
		return "duplicate"
	case errors.Is(err, ErrAppointmentBusy):
		return "busy"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotBillable):
		return "invalid"
	default:
		return "error"
	}
}

func (s *Service) ListBills(ctx context.Context, sess session.Session) ([]Bill, error) {
	if err := s.authorize(sess, authz.ViewBilling); err != nil {
		return nil, err
	}
	return s.repo.ListBills(ctx, sess.TenantID)
}

// InvoiceView is the read-only projection an invoice document is rendered from.
type InvoiceView struct {
	Tenant       Tenant         `json:"tenant"`
	Bill         Bill           `json:"bill"`
	Patient      Patient        `json:"patient"`
	Appointment  Appointment    `json:"appointment"`
	Record       *MedicalRecord `json:"record,omitempty"`
	Prescription *Prescription  `json:"prescription,omitempty"`
}

func (s *Service) Invoice(ctx context.Context, sess session.Session, billID string) (*InvoiceView, error) {
	if err := s.authorize(sess, authz.ViewBilling); err != nil {
		return nil, err
	}
	bill, err := s.repo.GetBill(ctx, sess.TenantID, billID)
	if err != nil {
		return nil, err
	}
	return s.invoiceView(ctx, sess.TenantID, bill)
}

func (s *Service) invoiceView(ctx context.Context, tenantID string, bill *Bill) (*InvoiceView, error) {
	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	patient, err := s.repo.GetPatient(ctx, tenantID, bill.PatientID)
	if err != nil {
		return nil, err
	}
	appt, err := s.repo.GetAppointment(ctx, tenantID, bill.AppointmentID)
	if err != nil {
		return nil, err
	}

	view := &InvoiceView{Tenant: *tenant, Bill: *bill, Patient: *patient, Appointment: *appt}

	record, err := s.repo.GetRecordForAppointment(ctx, tenantID, bill.AppointmentID)
	switch {
	case err == nil:
		view.Record = record
	case !errors.Is(err, ErrRecordNotFound):
		return nil, err
	}
	rx, err := s.repo.GetPrescriptionForAppointment(ctx, tenantID, bill.AppointmentID)
	switch {
	case err == nil:
		view.Prescription = rx
	case !errors.Is(err, ErrPrescriptionNotFound):
		return nil, err
	}
	return view, nil
}

// SweepPendingInvoices counts the unbilled backlog of every active tenant and
// publishes it as a gauge. It runs without a session.
func (s *Service) SweepPendingInvoices(ctx context.Context) (map[string]int, error) {
	tenants, err := s.repo.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	backlog := make(map[string]int, len(tenants))
	for _, t := range tenants {
		if t.Status != TenantActive {
			continue
		}
		appts, err := s.pending(ctx, s.repo, t.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("tenant_id", t.ID).Msg("count pending invoices")
			continue
		}
		backlog[t.ID] = len(appts)
		s.metrics.SetPendingInvoices(t.ID, len(appts))
	}

	total := 0
	for _, n := range backlog {
		total += n
	}
	s.logger.Info().Int("tenants", len(backlog)).Int("pending_invoices", total).Msg("pending invoice sweep")
	return backlog, nil
}

// sortByVisitDesc orders by (date, time) descending, keeping input order on ties.
func sortByVisitDesc[T any](items []T, key func(T) (string, string)) {
	sort.SliceStable(items, func(i, j int) bool {
		di, ti := key(items[i])
		dj, tj := key(items[j])
		if di != dj {
			return di > dj
		}
		return ti > tj
	})
}
