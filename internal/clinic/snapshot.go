package clinic

import (
	"context"

	"github.com/hackgods/clinic-opd/internal/authz"
	"github.com/hackgods/clinic-opd/internal/session"
)

// Snapshot is the current state visible to one session. Collections the
// role may not view are left nil.
type Snapshot struct {
	Settings      *Tenant         `json:"settings,omitempty"`
	Patients      []Patient       `json:"patients,omitempty"`
	Appointments  []Appointment   `json:"appointments,omitempty"`
	Records       []MedicalRecord `json:"records,omitempty"`
	Prescriptions []Prescription  `json:"prescriptions,omitempty"`
	Bills         []Bill          `json:"bills,omitempty"`
	Staff         []User          `json:"staff,omitempty"`
}

func (s *Service) Snapshot(ctx context.Context, sess session.Session) (*Snapshot, error) {
	if sess.UserID == "" || sess.TenantID == "" {
		return nil, ErrForbidden
	}

	var (
		snap Snapshot
		err  error
	)
	if sess.Can(authz.ViewSettings) {
		if snap.Settings, err = s.repo.GetTenant(ctx, sess.TenantID); err != nil {
			return nil, err
		}
	}
	if sess.Can(authz.ViewPatients) {
		if snap.Patients, err = s.repo.ListPatients(ctx, sess.TenantID); err != nil {
			return nil, err
		}
	}
	if sess.Can(authz.ViewAppointments) {
		if snap.Appointments, err = s.ListAppointments(ctx, sess, AppointmentFilter{}); err != nil {
			return nil, err
		}
	}
	if sess.Can(authz.ViewRecords) {
		if snap.Records, err = s.repo.ListRecords(ctx, sess.TenantID, ""); err != nil {
			return nil, err
		}
	}
	if sess.Can(authz.ViewPrescriptions) {
		if snap.Prescriptions, err = s.repo.ListPrescriptions(ctx, sess.TenantID, ""); err != nil {
			return nil, err
		}
	}
	if sess.Can(authz.ViewBilling) {
		if snap.Bills, err = s.repo.ListBills(ctx, sess.TenantID); err != nil {
			return nil, err
		}
	}
	if sess.Can(authz.ViewStaff) {
		if snap.Staff, err = s.repo.ListUsers(ctx, sess.TenantID); err != nil {
			return nil, err
		}
	}
	return &snap, nil
}
