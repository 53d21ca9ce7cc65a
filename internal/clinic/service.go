// Package clinic implements the OPD workflow: registry, appointment
// lifecycle, consultation, billing and pharmacy.
package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-opd/internal/authz"
	"github.com/hackgods/clinic-opd/internal/metrics"
	redisclient "github.com/hackgods/clinic-opd/internal/redis"
	"github.com/hackgods/clinic-opd/internal/session"
)

const (
	EventAppointmentBooked     = "APPOINTMENT_BOOKED"
	EventAppointmentCheckedIn  = "APPOINTMENT_CHECKED_IN"
	EventConsultationStarted   = "CONSULTATION_STARTED"
	EventAppointmentCompleted  = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled  = "APPOINTMENT_CANCELLED"
	EventBillSettled           = "BILL_SETTLED"
	EventPrescriptionDispensed = "PRESCRIPTION_DISPENSED"
	EventPrescriptionCancelled = "PRESCRIPTION_CANCELLED"
	EventTenantCreated         = "TENANT_CREATED"
	EventStaffAdded            = "STAFF_ADDED"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrForbidden               = errors.New("not allowed for this role")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrFinalizeRequired        = fmt.Errorf("%w: completion requires finalizing the consultation", ErrInvalidStatusTransition)
	ErrRecordExists            = errors.New("medical record already exists for appointment")
	ErrAlreadyBilled           = errors.New("appointment already billed")
	ErrNotBillable             = errors.New("appointment is not completed")
	ErrPrescriptionNotPending  = errors.New("prescription is not pending")
	ErrAppointmentBusy         = errors.New("appointment is being updated, please retry")
	ErrPrescriptionBusy        = errors.New("prescription is being updated, please retry")
	ErrEmailTaken              = errors.New("email already registered")
	ErrTenantSuspended         = errors.New("clinic account is suspended")
)

// InvoiceArchiver receives every settled invoice after commit.
type InvoiceArchiver interface {
	ArchiveInvoice(ctx context.Context, inv InvoiceView) error
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	logger   zerolog.Logger
	metrics  *metrics.ClinicMetrics
	archiver InvoiceArchiver
	now      func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, logger zerolog.Logger, m *metrics.ClinicMetrics) *Service {
	return &Service{
		repo:    repo,
		locker:  locker,
		logger:  logger.With().Str("component", "clinic").Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// SetArchiver enables post-settlement invoice archiving.
func (s *Service) SetArchiver(a InvoiceArchiver) {
	s.archiver = a
}

func (s *Service) authorize(sess session.Session, action authz.Action) error {
	if sess.UserID == "" || sess.TenantID == "" {
		return ErrForbidden
	}
	if !sess.Can(action) {
		return fmt.Errorf("%w: %s cannot %s", ErrForbidden, sess.Role, action)
	}
	return nil
}

// withAppointmentLock serializes writers of one appointment.
func (s *Service) withAppointmentLock(ctx context.Context, tenantID, appointmentID string, fn func(ctx context.Context) error) error {
	return s.withLock(ctx, fmt.Sprintf("appointment:%s:%s", tenantID, appointmentID), ErrAppointmentBusy, fn)
}

func (s *Service) withLock(ctx context.Context, key string, busy error, fn func(ctx context.Context) error) error {
	err := s.locker.WithLock(ctx, key, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return busy
	}
	return err
}

func (s *Service) today() string {
	return s.now().Format(dateLayout)
}

func (s *Service) logEvent(sess session.Session, eventType string, fields map[string]any) {
	s.logger.Info().
		Str("event", eventType).
		Str("tenant_id", sess.TenantID).
		Str("user_id", sess.UserID).
		Fields(fields).
		Msg("domain event")
}

func invalid(field, msg string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, msg)
}
