package api

import (
	"time"

	"github.com/hackgods/clinic-opd/internal/authz"
	"github.com/hackgods/clinic-opd/internal/clinic"
	"github.com/hackgods/clinic-opd/internal/session"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Session   session.Session `json:"session"`
}

type SignupResponse struct {
	Tenant clinic.Tenant `json:"tenant"`
	Admin  StaffResponse `json:"admin"`
}

// StaffResponse is a user without credentials.
type StaffResponse struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenantId"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Role           authz.Role `json:"role"`
	Specialization string     `json:"specialization,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func toStaffResponse(u clinic.User) StaffResponse {
	return StaffResponse{
		ID:             u.ID,
		TenantID:       u.TenantID,
		Name:           u.Name,
		Email:          u.Email,
		Role:           u.Role,
		Specialization: u.Specialization,
		Active:         u.Active,
		CreatedAt:      u.CreatedAt,
	}
}

func toStaffResponses(users []clinic.User) []StaffResponse {
	out := make([]StaffResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toStaffResponse(u))
	}
	return out
}

// StatusRequest is the body of POST /appointments/{id}/status.
type StatusRequest struct {
	Status          string              `json:"status"`
	Vitals          *clinic.VitalsInput `json:"vitals"`
	InitialSymptoms string              `json:"initialSymptoms"`
}

type TenantStatusRequest struct {
	Status clinic.TenantStatus `json:"status"`
}

type SnapshotResponse struct {
	Settings      *clinic.Tenant         `json:"settings,omitempty"`
	Patients      []clinic.Patient       `json:"patients,omitempty"`
	Appointments  []clinic.Appointment   `json:"appointments,omitempty"`
	Records       []clinic.MedicalRecord `json:"records,omitempty"`
	Prescriptions []clinic.Prescription  `json:"prescriptions,omitempty"`
	Bills         []clinic.Bill          `json:"bills,omitempty"`
	Staff         []StaffResponse        `json:"staff,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
