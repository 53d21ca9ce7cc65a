package clinic

import (
	"context"
	"errors"
)

var (
	ErrTenantNotFound       = errors.New("tenant not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrRecordNotFound       = errors.New("medical record not found")
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrBillNotFound         = errors.New("bill not found")
)

// AppointmentFilter narrows ListAppointments. Empty fields match everything.
type AppointmentFilter struct {
	PatientID string
	DoctorID  string
	Date      string
	Status    AppointmentStatus
}

// Repository contains all store interactions needed by the service.
type Repository interface {
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
	SaveTenant(ctx context.Context, t Tenant) error

	GetUser(ctx context.Context, tenantID, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, tenantID string) ([]User, error)
	SaveUser(ctx context.Context, u User) error

	GetPatient(ctx context.Context, tenantID, id string) (*Patient, error)
	ListPatients(ctx context.Context, tenantID string) ([]Patient, error)
	CreatePatient(ctx context.Context, p Patient) (*Patient, error)
	UpdatePatient(ctx context.Context, tenantID, id string, fields map[string]any) error

	GetAppointment(ctx context.Context, tenantID, id string) (*Appointment, error)
	ListAppointments(ctx context.Context, tenantID string, f AppointmentFilter) ([]Appointment, error)
	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	PatchAppointment(ctx context.Context, tenantID, id string, fields map[string]any) error

	// One record per appointment; a second insert fails with ErrRecordExists
	// where the backend enforces it.
	GetRecordForAppointment(ctx context.Context, tenantID, appointmentID string) (*MedicalRecord, error)
	ListRecords(ctx context.Context, tenantID, patientID string) ([]MedicalRecord, error)
	CreateRecord(ctx context.Context, r MedicalRecord) (*MedicalRecord, error)

	GetPrescription(ctx context.Context, tenantID, id string) (*Prescription, error)
	GetPrescriptionForAppointment(ctx context.Context, tenantID, appointmentID string) (*Prescription, error)
	ListPrescriptions(ctx context.Context, tenantID string, status PrescriptionStatus) ([]Prescription, error)
	CreatePrescription(ctx context.Context, p Prescription) (*Prescription, error)
	PatchPrescription(ctx context.Context, tenantID, id string, fields map[string]any) error

	// One bill per appointment; a second insert fails with ErrAlreadyBilled
	// where the backend enforces it.
	GetBill(ctx context.Context, tenantID, id string) (*Bill, error)
	GetBillForAppointment(ctx context.Context, tenantID, appointmentID string) (*Bill, error)
	ListBills(ctx context.Context, tenantID string) ([]Bill, error)
	CreateBill(ctx context.Context, b Bill) (*Bill, error)

	// WithinTx runs fn against a Repository whose writes commit together.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}
