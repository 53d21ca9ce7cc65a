// Package seed fills a store with a demo clinic using generated people.
package seed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-opd/internal/authz"
	"github.com/hackgods/clinic-opd/internal/clinic"
	"github.com/hackgods/clinic-opd/internal/session"
)

var specialties = []string{
	"General Medicine",
	"Dermatology",
	"Cardiology",
	"Orthopedics",
	"Pediatrics",
	"ENT",
	"Ophthalmology",
}

var reasons = []string{"Fever", "Cough", "Back pain", "Skin rash", "Follow-up", "Headache"}

type Options struct {
	ClinicName   string
	AdminEmail   string
	Password     string
	Doctors      int
	Patients     int
	Appointments int
	// Date the appointments are booked for, YYYY-MM-DD. Defaults to today.
	Date string
}

type Result struct {
	Tenant       clinic.Tenant
	Admin        session.Session
	Doctors      []session.Session
	Reception    session.Session
	Pharmacist   session.Session
	Patients     []clinic.Patient
	Appointments []clinic.Appointment
}

// Clinic signs up one clinic, staffs it and books the first appointments.
// Staff emails share the admin's domain and all accounts use opts.Password.
func Clinic(ctx context.Context, svc *clinic.Service, opts Options, logger zerolog.Logger) (*Result, error) {
	if opts.ClinicName == "" {
		opts.ClinicName = gofakeit.Company() + " Clinic"
	}
	if opts.Password == "" {
		opts.Password = "password123"
	}
	if opts.AdminEmail == "" {
		opts.AdminEmail = "admin@" + slug(opts.ClinicName) + ".test"
	}
	if opts.Date == "" {
		opts.Date = time.Now().Format("2006-01-02")
	}
	domain := opts.AdminEmail[strings.LastIndex(opts.AdminEmail, "@")+1:]

	tenant, admin, err := svc.Signup(ctx, clinic.SignupRequest{
		ClinicName: opts.ClinicName,
		AdminName:  gofakeit.Name(),
		Email:      opts.AdminEmail,
		Password:   opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("signup: %w", err)
	}
	res := &Result{Tenant: *tenant, Admin: sessionFor(admin)}
	logger.Info().Str("tenant_id", tenant.ID).Str("name", tenant.Name).Msg("seeded clinic")

	addStaff := func(i int, role authz.Role, spec string) (session.Session, error) {
		u, err := svc.AddStaff(ctx, res.Admin, clinic.StaffRequest{
			Name:           gofakeit.Name(),
			Email:          fmt.Sprintf("%s%d@%s", strings.ToLower(string(role)), i, domain),
			Password:       opts.Password,
			Role:           role,
			Specialization: spec,
		})
		if err != nil {
			return session.Session{}, fmt.Errorf("add %s: %w", role, err)
		}
		return sessionFor(u), nil
	}

	for i := 0; i < max(opts.Doctors, 1); i++ {
		doc, err := addStaff(i+1, authz.RoleDoctor, specialties[i%len(specialties)])
		if err != nil {
			return nil, err
		}
		res.Doctors = append(res.Doctors, doc)
	}
	if res.Reception, err = addStaff(1, authz.RoleReceptionist, ""); err != nil {
		return nil, err
	}
	if res.Pharmacist, err = addStaff(1, authz.RolePharmacist, ""); err != nil {
		return nil, err
	}

	for i := 0; i < opts.Patients; i++ {
		p, err := svc.AddPatient(ctx, res.Reception, clinic.PatientRequest{
			FirstName: gofakeit.FirstName(),
			LastName:  gofakeit.LastName(),
			Gender:    gofakeit.Gender(),
			Phone:     gofakeit.Phone(),
			Email:     gofakeit.Email(),
		})
		if err != nil {
			return nil, fmt.Errorf("add patient: %w", err)
		}
		res.Patients = append(res.Patients, *p)
	}

	if len(res.Patients) == 0 {
		return res, nil
	}
	for i := 0; i < opts.Appointments; i++ {
		doc := res.Doctors[i%len(res.Doctors)]
		// 15 minute slots from 09:00
		slot := time.Date(0, 1, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(i) * 15 * time.Minute)
		appt, err := svc.Book(ctx, res.Reception, clinic.BookRequest{
			PatientID:  res.Patients[i%len(res.Patients)].ID,
			DoctorID:   doc.UserID,
			Date:       opts.Date,
			Time:       slot.Format("15:04"),
			Department: specialties[(i%len(res.Doctors))%len(specialties)],
			Reason:     reasons[gofakeit.Number(0, len(reasons)-1)],
		})
		if err != nil {
			return nil, fmt.Errorf("book: %w", err)
		}
		res.Appointments = append(res.Appointments, *appt)
	}

	logger.Info().
		Str("tenant_id", tenant.ID).
		Int("doctors", len(res.Doctors)).
		Int("patients", len(res.Patients)).
		Int("appointments", len(res.Appointments)).
		Msg("seed complete")
	return res, nil
}

func sessionFor(u *clinic.User) session.Session {
	return session.Session{TenantID: u.TenantID, UserID: u.ID, Role: u.Role, Name: u.Name}
}

func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "clinic"
	}
	return b.String()
}
