package clinic

import (
	"time"

	"github.com/hackgods/clinic-opd/internal/authz"
)

type AppointmentStatus string

const (
	StatusScheduled      AppointmentStatus = "Scheduled"
	StatusCheckedIn      AppointmentStatus = "Checked-in"
	StatusInConsultation AppointmentStatus = "In-Consultation"
	StatusCompleted      AppointmentStatus = "Completed"
	StatusCancelled      AppointmentStatus = "Cancelled"
)

type PrescriptionStatus string

const (
	PrescriptionPending   PrescriptionStatus = "Pending"
	PrescriptionDispensed PrescriptionStatus = "Dispensed"
	PrescriptionCancelled PrescriptionStatus = "Cancelled"
)

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "Cash"
	PaymentUPI  PaymentMethod = "UPI"
	PaymentCard PaymentMethod = "Card"
)

type BillStatus string

const BillPaid BillStatus = "Paid"

type TenantStatus string

const (
	TenantActive    TenantStatus = "Active"
	TenantSuspended TenantStatus = "Suspended"
)

type Plan string

const (
	PlanFree       Plan = "Free"
	PlanPro        Plan = "Pro"
	PlanEnterprise Plan = "Enterprise"
)

// PlatformTenant scopes SuperAdmin accounts, which belong to no clinic.
const PlatformTenant = "platform"

type Tenant struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	ConsultationFee float64      `json:"consultationFee"`
	PlatformFee     float64      `json:"platformFee"`
	Status          TenantStatus `json:"status"`
	Plan            Plan         `json:"plan"`
	CreatedAt       time.Time    `json:"createdAt"`
}

type User struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenantId"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Role           authz.Role `json:"role"`
	Specialization string     `json:"specialization,omitempty"`
	PasswordHash   string     `json:"passwordHash,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type Patient struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenantId"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	DOB            string `json:"dob,omitempty"`
	Gender         string `json:"gender,omitempty"`
	BloodGroup     string `json:"bloodGroup,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Email          string `json:"email,omitempty"`
	Address        string `json:"address,omitempty"`
	RegisteredDate string `json:"registeredDate"`
}

func (p Patient) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

type Vitals struct {
	BP         string `json:"bp"`
	Temp       string `json:"temp"`
	Pulse      string `json:"pulse"`
	Weight     string `json:"weight"`
	SpO2       string `json:"spo2"`
	SugarLevel string `json:"sugarLevel"`
}

type Appointment struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenantId"`
	PatientID       string            `json:"patientId"`
	PatientName     string            `json:"patientName,omitempty"`
	DoctorID        string            `json:"doctorId"`
	DoctorName      string            `json:"doctorName,omitempty"`
	Date            string            `json:"date"`
	Time            string            `json:"time"`
	Department      string            `json:"department,omitempty"`
	Status          AppointmentStatus `json:"status"`
	Reason          string            `json:"reason,omitempty"`
	Vitals          *Vitals           `json:"vitals,omitempty"`
	InitialSymptoms string            `json:"initialSymptoms,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
}

type MedicalRecord struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	AppointmentID string `json:"appointmentId"`
	PatientID     string `json:"patientId"`
	DoctorID      string `json:"doctorId"`
	Date          string `json:"date"`
	Diagnosis     string `json:"diagnosis"`
	Symptoms      string `json:"symptoms,omitempty"`
	Vitals        Vitals `json:"vitals"`
	Notes         string `json:"notes,omitempty"`
	FollowUpDate  string `json:"followUpDate,omitempty"`
}

type Medicine struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
}

type Prescription struct {
	ID            string             `json:"id"`
	TenantID      string             `json:"tenantId"`
	PatientID     string             `json:"patientId"`
	AppointmentID string             `json:"appointmentId"`
	DoctorID      string             `json:"doctorId"`
	Date          string             `json:"date"`
	Status        PrescriptionStatus `json:"status"`
	Medicines     []Medicine         `json:"medicines"`
	DispensedAt   *time.Time         `json:"dispensedAt,omitempty"`
	DispensedBy   string             `json:"dispensedBy,omitempty"`
}

type LineItem struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

type Bill struct {
	ID            string        `json:"id"`
	Number        string        `json:"number"`
	TenantID      string        `json:"tenantId"`
	PatientID     string        `json:"patientId"`
	AppointmentID string        `json:"appointmentId"`
	Date          string        `json:"date"`
	Items         []LineItem    `json:"items"`
	Total         float64       `json:"total"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	Status        BillStatus    `json:"status"`
	CreatedBy     string        `json:"createdBy,omitempty"`
}
