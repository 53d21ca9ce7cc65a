package clinic

import (
	"context"
	"errors"
	"fmt"

	"github.com/hackgods/clinic-opd/internal/authz"
	"github.com/hackgods/clinic-opd/internal/session"
)

// QueueEntry is a prescription joined to the visit it came from.
type QueueEntry struct {
	Prescription Prescription `json:"prescription"`
	PatientName  string       `json:"patientName"`
	DoctorName   string       `json:"doctorName"`
	VisitDate    string       `json:"visitDate"`
	VisitTime    string       `json:"visitTime"`
}

// PharmacyQueue lists prescriptions by visit (date, time), most recent first.
// An empty status returns every prescription.
func (s *Service) PharmacyQueue(ctx context.Context, sess session.Session, status PrescriptionStatus) ([]QueueEntry, error) {
	if err := s.authorize(sess, authz.ViewPrescriptions); err != nil {
		return nil, err
	}

	rxs, err := s.repo.ListPrescriptions(ctx, sess.TenantID, status)
	if err != nil {
		return nil, err
	}
	appts, err := s.repo.ListAppointments(ctx, sess.TenantID, AppointmentFilter{})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Appointment, len(appts))
	for _, a := range appts {
		byID[a.ID] = a
	}

	queue := make([]QueueEntry, 0, len(rxs))
	for _, rx := range rxs {
		e := QueueEntry{Prescription: rx, VisitDate: rx.Date}
		if a, ok := byID[rx.AppointmentID]; ok {
			e.PatientName = a.PatientName
			e.DoctorName = a.DoctorName
			e.VisitDate = a.Date
			e.VisitTime = a.Time
		}
		queue = append(queue, e)
	}
	sortByVisitDesc(queue, func(e QueueEntry) (string, string) { return e.VisitDate, e.VisitTime })
	return queue, nil
}

// Dispense marks a Pending prescription Dispensed. Any other status is
// terminal and rejected with ErrPrescriptionNotPending.
func (s *Service) Dispense(ctx context.Context, sess session.Session, id string) (*Prescription, error) {
	if err := s.authorize(sess, authz.Dispense); err != nil {
		return nil, err
	}
	rx, err := s.closePrescription(ctx, sess, id, PrescriptionDispensed)
	s.metrics.ObserveDispense(dispenseResult(err))
	if err != nil {
		return nil, err
	}
	s.logEvent(sess, EventPrescriptionDispensed, map[string]any{
		"prescription_id": rx.ID,
		"appointment_id":  rx.AppointmentID,
	})
	return rx, nil
}

// CancelPrescription voids a Pending prescription.
func (s *Service) CancelPrescription(ctx context.Context, sess session.Session, id string) (*Prescription, error) {
	if err := s.authorize(sess, authz.CancelPrescription); err != nil {
		return nil, err
	}
	rx, err := s.closePrescription(ctx, sess, id, PrescriptionCancelled)
	if err != nil {
		return nil, err
	}
	s.logEvent(sess, EventPrescriptionCancelled, map[string]any{
		"prescription_id": rx.ID,
	})
	return rx, nil
}

func (s *Service) closePrescription(ctx context.Context, sess session.Session, id string, to PrescriptionStatus) (*Prescription, error) {
	var out *Prescription
	key := fmt.Sprintf("prescription:%s:%s", sess.TenantID, id)
	err := s.withLock(ctx, key, ErrPrescriptionBusy, func(lockCtx context.Context) error {
		return s.repo.WithinTx(lockCtx, func(ctx context.Context, tx Repository) error {
			rx, err := tx.GetPrescription(ctx, sess.TenantID, id)
			if err != nil {
				return err
			}
			if rx.Status != PrescriptionPending {
				return fmt.Errorf("%w: status is %s", ErrPrescriptionNotPending, rx.Status)
			}

			fields := map[string]any{"status": string(to)}
			if to == PrescriptionDispensed {
				now := s.now().UTC()
				fields["dispensedAt"] = now
				fields["dispensedBy"] = sess.UserID
				rx.DispensedAt = &now
				rx.DispensedBy = sess.UserID
			}
			if err := tx.PatchPrescription(ctx, sess.TenantID, id, fields); err != nil {
				return err
			}
			rx.Status = to
			out = rx
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func dispenseResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrPrescriptionNotPending):
		return "rejected"
	default:
		return "error"
	}
}
