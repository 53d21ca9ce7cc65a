package clinic

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-opd/internal/authz"
	redisclient "github.com/hackgods/clinic-opd/internal/redis"
	"github.com/hackgods/clinic-opd/internal/session"
	"github.com/hackgods/clinic-opd/internal/store"
)

var fixedNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	st     *store.Memory
	tenant *Tenant

	admin      session.Session
	reception  session.Session
	doctor     session.Session
	pharmacist session.Session

	patient *Patient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemory()
	svc := NewService(NewStoreRepository(st), redisclient.NewLocalLocker(), zerolog.Nop(), nil)
	svc.now = func() time.Time { return fixedNow }

	tenant, admin, err := svc.Signup(ctx, SignupRequest{
		ClinicName: "Sunrise Clinic",
		AdminName:  "Asha Menon",
		Email:      "admin@sunrise.test",
		Password:   "password123",
	})
	require.NoError(t, err)

	f := &fixture{svc: svc, st: st, tenant: tenant}
	f.admin = sessionFor(admin)
	f.doctor = f.staff(t, "Dr. Ravi Rao", "ravi@sunrise.test", authz.RoleDoctor)
	f.reception = f.staff(t, "Meera Desk", "desk@sunrise.test", authz.RoleReceptionist)
	f.pharmacist = f.staff(t, "Paul Pharma", "rx@sunrise.test", authz.RolePharmacist)

	f.patient, err = svc.AddPatient(ctx, f.reception, PatientRequest{
		FirstName: "Kiran",
		LastName:  "Shah",
		DOB:       "1990-05-01",
		Gender:    "F",
		Phone:     "+91 98200 00000",
	})
	require.NoError(t, err)
	return f
}

func sessionFor(u *User) session.Session {
	return session.Session{TenantID: u.TenantID, UserID: u.ID, Role: u.Role, Name: u.Name}
}

func (f *fixture) staff(t *testing.T, name, email string, role authz.Role) session.Session {
	t.Helper()
	u, err := f.svc.AddStaff(context.Background(), f.admin, StaffRequest{
		Name:     name,
		Email:    email,
		Password: "password123",
		Role:     role,
	})
	require.NoError(t, err)
	return sessionFor(u)
}

func (f *fixture) book(t *testing.T, date, tm string) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), f.reception, BookRequest{
		PatientID:  f.patient.ID,
		DoctorID:   f.doctor.UserID,
		Date:       date,
		Time:       tm,
		Department: "General Medicine",
		Reason:     "Fever",
	})
	require.NoError(t, err)
	return appt
}

func (f *fixture) checkedIn(t *testing.T, date, tm string) *Appointment {
	t.Helper()
	appt := f.book(t, date, tm)
	appt, err := f.svc.CheckIn(context.Background(), f.reception, appt.ID, CheckInRequest{
		Vitals:          &VitalsInput{BP: "120/80", Temp: "101.2"},
		InitialSymptoms: "Fever, body ache",
	})
	require.NoError(t, err)
	return appt
}

func fluConsultation() ConsultationRequest {
	return ConsultationRequest{
		Diagnosis: "Flu",
		Notes:     "Rest and fluids",
		Medicines: []MedicineInput{{
			Name:         "Paracetamol",
			Morning:      true,
			Night:        true,
			Duration:     "5 Days",
			Instructions: "After Food",
		}},
	}
}

// completed runs a visit through finalization and returns the appointment.
func (f *fixture) completed(t *testing.T, date, tm string) *Consultation {
	t.Helper()
	appt := f.checkedIn(t, date, tm)
	c, err := f.svc.FinalizeConsultation(context.Background(), f.doctor, appt.ID, fluConsultation())
	require.NoError(t, err)
	return c
}

func (f *fixture) count(t *testing.T, coll store.Collection) int {
	t.Helper()
	docs, err := f.st.Query(context.Background(), coll, store.Filter{TenantID: f.tenant.ID})
	require.NoError(t, err)
	return len(docs)
}
