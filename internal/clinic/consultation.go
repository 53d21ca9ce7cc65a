package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hackgods/clinic-opd/internal/authz"
	"github.com/hackgods/clinic-opd/internal/session"
)

// MedicineInput is one prescribed drug with its daily schedule flags.
type MedicineInput struct {
	Name         string `json:"name"`
	Morning      bool   `json:"morning"`
	Afternoon    bool   `json:"afternoon"`
	Evening      bool   `json:"evening"`
	Night        bool   `json:"night"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
}

// Dosage renders the schedule as morning-afternoon-evening-night, e.g. "1-0-0-1".
func Dosage(morning, afternoon, evening, night bool) string {
	flag := func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	}
	return flag(morning) + "-" + flag(afternoon) + "-" + flag(evening) + "-" + flag(night)
}

func (m MedicineInput) Medicine() Medicine {
	return Medicine{
		Name:         strings.TrimSpace(m.Name),
		Dosage:       Dosage(m.Morning, m.Afternoon, m.Evening, m.Night),
		Duration:     strings.TrimSpace(m.Duration),
		Instructions: strings.TrimSpace(m.Instructions),
	}
}

type ConsultationRequest struct {
	Diagnosis    string          `json:"diagnosis"`
	Symptoms     string          `json:"symptoms"`
	Notes        string          `json:"notes"`
	FollowUpDate string          `json:"followUpDate"`
	Medicines    []MedicineInput `json:"medicines"`
}

func (r ConsultationRequest) validate() error {
	if strings.TrimSpace(r.Diagnosis) == "" {
		return invalid("diagnosis", "is required")
	}
	if r.FollowUpDate != "" {
		if _, err := parseDate(r.FollowUpDate); err != nil {
			return invalid("followUpDate", "must be YYYY-MM-DD")
		}
	}
	for i, m := range r.Medicines {
		if strings.TrimSpace(m.Name) == "" {
			return invalid(fmt.Sprintf("medicines[%d].name", i), "is required")
		}
	}
	return nil
}

// Consultation is everything a finalization produced.
type Consultation struct {
	Appointment  Appointment   `json:"appointment"`
	Record       MedicalRecord `json:"record"`
	Prescription Prescription  `json:"prescription"`
}

// FinalizeConsultation writes the medical record, the prescription and the
// Completed status in one transaction. A second finalization of the same
// appointment fails with ErrRecordExists.
func (s *Service) FinalizeConsultation(ctx context.Context, sess session.Session, appointmentID string, req ConsultationRequest) (*Consultation, error) {
	if err := s.authorize(sess, authz.Consult); err != nil {
		return nil, err
	}
	if strings.TrimSpace(appointmentID) == "" {
		return nil, invalid("appointmentId", "is required")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	var (
		out  *Consultation
		from AppointmentStatus
	)
	err := s.withAppointmentLock(ctx, sess.TenantID, appointmentID, func(lockCtx context.Context) error {
		return s.repo.WithinTx(lockCtx, func(ctx context.Context, tx Repository) error {
			appt, err := tx.GetAppointment(ctx, sess.TenantID, appointmentID)
			if err != nil {
				return err
			}
			if sess.Role == authz.RoleDoctor && appt.DoctorID != sess.UserID {
				return fmt.Errorf("%w: appointment belongs to another doctor", ErrForbidden)
			}

			if _, err := tx.GetRecordForAppointment(ctx, sess.TenantID, appointmentID); err == nil {
				return ErrRecordExists
			} else if !errors.Is(err, ErrRecordNotFound) {
				return fmt.Errorf("check existing record: %w", err)
			}
			if err := checkTransition(appt.Status, StatusCompleted); err != nil {
				return err
			}

			vitals := (&VitalsInput{}).Vitals()
			if appt.Vitals != nil {
				vitals = *appt.Vitals
			}
			today := s.today()

			record, err := tx.CreateRecord(ctx, MedicalRecord{
				TenantID:      sess.TenantID,
				AppointmentID: appt.ID,
				PatientID:     appt.PatientID,
				DoctorID:      appt.DoctorID,
				Date:          today,
				Diagnosis:     strings.TrimSpace(req.Diagnosis),
				Symptoms:      orDefault(req.Symptoms, appt.InitialSymptoms),
				Vitals:        vitals,
				Notes:         strings.TrimSpace(req.Notes),
				FollowUpDate:  req.FollowUpDate,
			})
			if err != nil {
				return err
			}

			medicines := make([]Medicine, 0, len(req.Medicines))
			for _, m := range req.Medicines {
				medicines = append(medicines, m.Medicine())
			}
			rx, err := tx.CreatePrescription(ctx, Prescription{
				TenantID:      sess.TenantID,
				PatientID:     appt.PatientID,
				AppointmentID: appt.ID,
				DoctorID:      appt.DoctorID,
				Date:          today,
				Status:        PrescriptionPending,
				Medicines:     medicines,
			})
			if err != nil {
				return err
			}

			if err := tx.PatchAppointment(ctx, sess.TenantID, appt.ID, map[string]any{
				"status": string(StatusCompleted),
			}); err != nil {
				return err
			}

			from = appt.Status
			appt.Status = StatusCompleted
			out = &Consultation{Appointment: *appt, Record: *record, Prescription: *rx}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(from), string(StatusCompleted))
	s.logEvent(sess, EventAppointmentCompleted, map[string]any{
		"appointment_id":  appointmentID,
		"record_id":       out.Record.ID,
		"prescription_id": out.Prescription.ID,
		"medicines":       len(out.Prescription.Medicines),
	})
	return out, nil
}

// ListRecords returns medical records, optionally for one patient.
func (s *Service) ListRecords(ctx context.Context, sess session.Session, patientID string) ([]MedicalRecord, error) {
	if err := s.authorize(sess, authz.ViewRecords); err != nil {
		return nil, err
	}
	return s.repo.ListRecords(ctx, sess.TenantID, patientID)
}
