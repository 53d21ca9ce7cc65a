package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hackgods/clinic-opd/internal/authz"
	"github.com/hackgods/clinic-opd/internal/session"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

type BookRequest struct {
	PatientID  string `json:"patientId"`
	DoctorID   string `json:"doctorId"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	Department string `json:"department"`
	Reason     string `json:"reason"`
}

func (r BookRequest) validate() error {
	switch {
	case strings.TrimSpace(r.PatientID) == "":
		return invalid("patientId", "is required")
	case strings.TrimSpace(r.DoctorID) == "":
		return invalid("doctorId", "is required")
	case strings.TrimSpace(r.Date) == "":
		return invalid("date", "is required")
	case strings.TrimSpace(r.Time) == "":
		return invalid("time", "is required")
	}
	if _, err := parseDate(r.Date); err != nil {
		return invalid("date", "must be YYYY-MM-DD")
	}
	if _, err := time.Parse(timeLayout, r.Time); err != nil {
		return invalid("time", "must be HH:MM")
	}
	return nil
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse(dateLayout, raw)
}

// CheckInRequest carries triage data. Both fields are optional.
type CheckInRequest struct {
	Vitals          *VitalsInput `json:"vitals"`
	InitialSymptoms string       `json:"initialSymptoms"`
}

// Book creates a Scheduled appointment for an existing patient and doctor.
func (s *Service) Book(ctx context.Context, sess session.Session, req BookRequest) (*Appointment, error) {
	if err := s.authorize(sess, authz.BookAppointment); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	patient, err := s.repo.GetPatient(ctx, sess.TenantID, req.PatientID)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	doctor, err := s.repo.GetUser(ctx, sess.TenantID, req.DoctorID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, invalid("doctorId", "does not match a staff member")
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if doctor.Role != authz.RoleDoctor || !doctor.Active {
		return nil, invalid("doctorId", "is not an active doctor")
	}

	appt, err := s.repo.CreateAppointment(ctx, Appointment{
		TenantID:    sess.TenantID,
		PatientID:   patient.ID,
		PatientName: patient.FullName(),
		DoctorID:    doctor.ID,
		DoctorName:  doctor.Name,
		Date:        req.Date,
		Time:        req.Time,
		Department:  strings.TrimSpace(req.Department),
		Reason:      strings.TrimSpace(req.Reason),
		Status:      StatusScheduled,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(sess, EventAppointmentBooked, map[string]any{
		"appointment_id": appt.ID,
		"patient_id":     appt.PatientID,
		"doctor_id":      appt.DoctorID,
		"date":           appt.Date,
	})
	return appt, nil
}

// CheckIn moves a Scheduled appointment to Checked-in and attaches vitals.
// An empty appointment id is a no-op and returns (nil, nil).
func (s *Service) CheckIn(ctx context.Context, sess session.Session, appointmentID string, req CheckInRequest) (*Appointment, error) {
	if err := s.authorize(sess, authz.CheckInAppointment); err != nil {
		return nil, err
	}
	if strings.TrimSpace(appointmentID) == "" {
		return nil, nil
	}

	vitals := req.Vitals.Vitals()
	symptoms := orDefault(req.InitialSymptoms, noSymptomsRecorded)

	return s.transition(ctx, sess, appointmentID, StatusCheckedIn, map[string]any{
		"vitals":          vitals,
		"initialSymptoms": symptoms,
	}, EventAppointmentCheckedIn)
}

// StartConsultation moves a Checked-in appointment to In-Consultation.
func (s *Service) StartConsultation(ctx context.Context, sess session.Session, appointmentID string) (*Appointment, error) {
	if err := s.authorize(sess, authz.Consult); err != nil {
		return nil, err
	}
	return s.transition(ctx, sess, appointmentID, StatusInConsultation, nil, EventConsultationStarted)
}

// Cancel is allowed from Scheduled or Checked-in.
func (s *Service) Cancel(ctx context.Context, sess session.Session, appointmentID string) (*Appointment, error) {
	if err := s.authorize(sess, authz.CancelAppointment); err != nil {
		return nil, err
	}
	return s.transition(ctx, sess, appointmentID, StatusCancelled, nil, EventAppointmentCancelled)
}

// UpdateAppointmentStatus routes a requested status to the operation that
// owns it. Completed is refused; it is reached only by finalizing.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, sess session.Session, appointmentID string, status AppointmentStatus, extra CheckInRequest) (*Appointment, error) {
	switch status {
	case StatusCheckedIn:
		return s.CheckIn(ctx, sess, appointmentID, extra)
	case StatusInConsultation:
		return s.StartConsultation(ctx, sess, appointmentID)
	case StatusCancelled:
		return s.Cancel(ctx, sess, appointmentID)
	case StatusCompleted:
		return nil, ErrFinalizeRequired
	default:
		return nil, fmt.Errorf("%w: cannot move to %s", ErrInvalidStatusTransition, status)
	}
}

func (s *Service) transition(ctx context.Context, sess session.Session, appointmentID string, to AppointmentStatus, fields map[string]any, event string) (*Appointment, error) {
	var (
		updated *Appointment
		from    AppointmentStatus
	)
	err := s.withAppointmentLock(ctx, sess.TenantID, appointmentID, func(ctx context.Context) error {
		appt, err := s.repo.GetAppointment(ctx, sess.TenantID, appointmentID)
		if err != nil {
			return err
		}
		if sess.Role == authz.RoleDoctor && appt.DoctorID != sess.UserID {
			return fmt.Errorf("%w: appointment belongs to another doctor", ErrForbidden)
		}
		if err := checkTransition(appt.Status, to); err != nil {
			return err
		}

		patch := map[string]any{"status": string(to)}
		for k, v := range fields {
			patch[k] = v
		}
		if err := s.repo.PatchAppointment(ctx, sess.TenantID, appointmentID, patch); err != nil {
			return err
		}

		from = appt.Status
		updated, err = s.repo.GetAppointment(ctx, sess.TenantID, appointmentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(from), string(to))
	s.logEvent(sess, event, map[string]any{
		"appointment_id": appointmentID,
		"from":           string(from),
		"to":             string(to),
	})
	return updated, nil
}

func (s *Service) GetAppointment(ctx context.Context, sess session.Session, id string) (*Appointment, error) {
	if err := s.authorize(sess, authz.ViewAppointments); err != nil {
		return nil, err
	}
	return s.repo.GetAppointment(ctx, sess.TenantID, id)
}

// ListAppointments returns the tenant's appointments. Doctors only see their own.
func (s *Service) ListAppointments(ctx context.Context, sess session.Session, f AppointmentFilter) ([]Appointment, error) {
	if err := s.authorize(sess, authz.ViewAppointments); err != nil {
		return nil, err
	}
	if sess.Role == authz.RoleDoctor {
		f.DoctorID = sess.UserID
	}
	return s.repo.ListAppointments(ctx, sess.TenantID, f)
}
