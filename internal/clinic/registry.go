package clinic

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/hackgods/clinic-opd/internal/authz"
	"github.com/hackgods/clinic-opd/internal/session"
)

const minPasswordLen = 8

// Tenants

type SignupRequest struct {
	ClinicName      string  `json:"clinicName"`
	AdminName       string  `json:"adminName"`
	Email           string  `json:"email"`
	Password        string  `json:"password"`
	ConsultationFee float64 `json:"consultationFee"`
	PlatformFee     float64 `json:"platformFee"`
	Plan            Plan    `json:"plan"`
}

// Signup creates a tenant and its first Admin in one transaction.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*Tenant, *User, error) {
	if strings.TrimSpace(req.ClinicName) == "" {
		return nil, nil, invalid("clinicName", "is required")
	}
	if req.ConsultationFee < 0 {
		return nil, nil, invalid("consultationFee", "must not be negative")
	}
	if req.PlatformFee < 0 {
		return nil, nil, invalid("platformFee", "must not be negative")
	}
	plan := req.Plan
	if plan == "" {
		plan = PlanFree
	}
	if plan != PlanFree && plan != PlanPro && plan != PlanEnterprise {
		return nil, nil, invalid("plan", "must be Free, Pro or Enterprise")
	}

	tenant := Tenant{
		ID:              NewID(),
		Name:            strings.TrimSpace(req.ClinicName),
		ConsultationFee: req.ConsultationFee,
		PlatformFee:     req.PlatformFee,
		Status:          TenantActive,
		Plan:            plan,
		CreatedAt:       s.now().UTC(),
	}
	admin, err := s.newUser(tenant.ID, req.AdminName, req.Email, req.Password, authz.RoleAdmin, "")
	if err != nil {
		return nil, nil, err
	}

	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := ensureEmailFree(ctx, tx, admin.Email); err != nil {
			return err
		}
		if err := tx.SaveTenant(ctx, tenant); err != nil {
			return err
		}
		return tx.SaveUser(ctx, *admin)
	})
	if err != nil {
		return nil, nil, err
	}

	s.logEvent(session.Session{TenantID: tenant.ID, UserID: admin.ID}, EventTenantCreated, map[string]any{
		"name": tenant.Name,
		"plan": string(tenant.Plan),
	})
	return &tenant, admin, nil
}

// CreateSuperAdmin provisions a platform operator account.
func (s *Service) CreateSuperAdmin(ctx context.Context, name, email, password string) (*User, error) {
	u, err := s.newUser(PlatformTenant, name, email, password, authz.RoleSuperAdmin, "")
	if err != nil {
		return nil, err
	}
	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := ensureEmailFree(ctx, tx, u.Email); err != nil {
			return err
		}
		return tx.SaveUser(ctx, *u)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Settings(ctx context.Context, sess session.Session) (*Tenant, error) {
	if err := s.authorize(sess, authz.ViewSettings); err != nil {
		return nil, err
	}
	return s.repo.GetTenant(ctx, sess.TenantID)
}

type SettingsUpdate struct {
	Name            *string  `json:"name"`
	ConsultationFee *float64 `json:"consultationFee"`
	PlatformFee     *float64 `json:"platformFee"`
}

func (s *Service) UpdateSettings(ctx context.Context, sess session.Session, req SettingsUpdate) (*Tenant, error) {
	if err := s.authorize(sess, authz.ManageSettings); err != nil {
		return nil, err
	}
	tenant, err := s.repo.GetTenant(ctx, sess.TenantID)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, invalid("name", "must not be empty")
		}
		tenant.Name = name
	}
	if req.ConsultationFee != nil {
		if *req.ConsultationFee < 0 {
			return nil, invalid("consultationFee", "must not be negative")
		}
		tenant.ConsultationFee = *req.ConsultationFee
	}
	if req.PlatformFee != nil {
		if *req.PlatformFee < 0 {
			return nil, invalid("platformFee", "must not be negative")
		}
		tenant.PlatformFee = *req.PlatformFee
	}
	if err := s.repo.SaveTenant(ctx, *tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

func (s *Service) ListTenants(ctx context.Context, sess session.Session) ([]Tenant, error) {
	if err := s.authorize(sess, authz.ManageTenants); err != nil {
		return nil, err
	}
	return s.repo.ListTenants(ctx)
}

// SetTenantStatus suspends or reactivates a clinic. Suspended clinics cannot log in.
func (s *Service) SetTenantStatus(ctx context.Context, sess session.Session, tenantID string, status TenantStatus) (*Tenant, error) {
	if err := s.authorize(sess, authz.ManageTenants); err != nil {
		return nil, err
	}
	if status != TenantActive && status != TenantSuspended {
		return nil, invalid("status", "must be Active or Suspended")
	}
	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	tenant.Status = status
	if err := s.repo.SaveTenant(ctx, *tenant); err != nil {
		return nil, err
	}
	s.logger.Info().Str("tenant_id", tenantID).Str("status", string(status)).Str("by", sess.UserID).Msg("tenant status changed")
	return tenant, nil
}

// Staff

type StaffRequest struct {
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	Password       string     `json:"password"`
	Role           authz.Role `json:"role"`
	Specialization string     `json:"specialization"`
}

func (s *Service) AddStaff(ctx context.Context, sess session.Session, req StaffRequest) (*User, error) {
	if err := s.authorize(sess, authz.ManageStaff); err != nil {
		return nil, err
	}
	if !isStaffRole(req.Role) {
		return nil, invalid("role", "must be Admin, Doctor, Receptionist or Pharmacist")
	}
	u, err := s.newUser(sess.TenantID, req.Name, req.Email, req.Password, req.Role, req.Specialization)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithinTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := ensureEmailFree(ctx, tx, u.Email); err != nil {
			return err
		}
		return tx.SaveUser(ctx, *u)
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(sess, EventStaffAdded, map[string]any{"staff_id": u.ID, "role": string(u.Role)})
	return u, nil
}

func (s *Service) ListStaff(ctx context.Context, sess session.Session) ([]User, error) {
	if err := s.authorize(sess, authz.ViewStaff); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx, sess.TenantID)
}

func (s *Service) newUser(tenantID, name, email, password string, role authz.Role, specialization string) (*User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, invalid("email", "is not a valid address")
	}
	if len(password) < minPasswordLen {
		return nil, invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLen))
	}
	hash, err := session.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &User{
		ID:             NewID(),
		TenantID:       tenantID,
		Name:           name,
		Email:          email,
		Role:           role,
		Specialization: strings.TrimSpace(specialization),
		PasswordHash:   hash,
		Active:         true,
		CreatedAt:      s.now().UTC(),
	}, nil
}

func isStaffRole(r authz.Role) bool {
	for _, sr := range authz.StaffRoles {
		if sr == r {
			return true
		}
	}
	return false
}

func ensureEmailFree(ctx context.Context, repo Repository, email string) error {
	_, err := repo.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		return ErrEmailTaken
	case errors.Is(err, ErrUserNotFound):
		return nil
	default:
		return fmt.Errorf("check email: %w", err)
	}
}

// Login verifies credentials and returns the session to issue. Unknown
// emails and wrong passwords fail the same way.
func (s *Service) Login(ctx context.Context, email, password string) (session.Session, error) {
	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return session.Session{}, session.ErrInvalidCredentials
		}
		return session.Session{}, fmt.Errorf("find user: %w", err)
	}
	if err := session.CheckPassword(user.PasswordHash, password); err != nil {
		return session.Session{}, err
	}
	if !user.Active {
		return session.Session{}, session.ErrInvalidCredentials
	}

	if user.Role != authz.RoleSuperAdmin {
		tenant, err := s.repo.GetTenant(ctx, user.TenantID)
		if err != nil {
			return session.Session{}, fmt.Errorf("load tenant: %w", err)
		}
		if tenant.Status == TenantSuspended {
			return session.Session{}, ErrTenantSuspended
		}
	}

	return session.Session{
		TenantID: user.TenantID,
		UserID:   user.ID,
		Role:     user.Role,
		Name:     user.Name,
	}, nil
}

// CheckTenantActive rejects sessions of a clinic suspended after the token
// was issued. Platform sessions have no clinic and always pass.
func (s *Service) CheckTenantActive(ctx context.Context, sess session.Session) error {
	if sess.Role == authz.RoleSuperAdmin {
		return nil
	}
	tenant, err := s.repo.GetTenant(ctx, sess.TenantID)
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}
	if tenant.Status == TenantSuspended {
		return ErrTenantSuspended
	}
	return nil
}

// Patients

type PatientRequest struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	DOB        string `json:"dob"`
	Gender     string `json:"gender"`
	BloodGroup string `json:"bloodGroup"`
	Phone      string `json:"phone"`
	Email      string `json:"email"`
	Address    string `json:"address"`
}

func (s *Service) AddPatient(ctx context.Context, sess session.Session, req PatientRequest) (*Patient, error) {
	if err := s.authorize(sess, authz.ManagePatients); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.FirstName) == "" {
		return nil, invalid("firstName", "is required")
	}
	if strings.TrimSpace(req.LastName) == "" {
		return nil, invalid("lastName", "is required")
	}
	if req.DOB != "" {
		if _, err := parseDate(req.DOB); err != nil {
			return nil, invalid("dob", "must be YYYY-MM-DD")
		}
	}

	return s.repo.CreatePatient(ctx, Patient{
		TenantID:       sess.TenantID,
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		DOB:            req.DOB,
		Gender:         strings.TrimSpace(req.Gender),
		BloodGroup:     strings.TrimSpace(req.BloodGroup),
		Phone:          strings.TrimSpace(req.Phone),
		Email:          strings.TrimSpace(req.Email),
		Address:        strings.TrimSpace(req.Address),
		RegisteredDate: s.today(),
	})
}

// PatientUpdate changes demographic fields. Nil fields are left alone.
type PatientUpdate struct {
	FirstName  *string `json:"firstName"`
	LastName   *string `json:"lastName"`
	DOB        *string `json:"dob"`
	Gender     *string `json:"gender"`
	BloodGroup *string `json:"bloodGroup"`
	Phone      *string `json:"phone"`
	Email      *string `json:"email"`
	Address    *string `json:"address"`
}

func (u PatientUpdate) fields() (map[string]any, error) {
	fields := map[string]any{}
	set := func(key string, v *string, required bool) error {
		if v == nil {
			return nil
		}
		val := strings.TrimSpace(*v)
		if required && val == "" {
			return invalid(key, "must not be empty")
		}
		fields[key] = val
		return nil
	}
	for _, f := range []struct {
		key      string
		v        *string
		required bool
	}{
		{"firstName", u.FirstName, true},
		{"lastName", u.LastName, true},
		{"dob", u.DOB, false},
		{"gender", u.Gender, false},
		{"bloodGroup", u.BloodGroup, false},
		{"phone", u.Phone, false},
		{"email", u.Email, false},
		{"address", u.Address, false},
	} {
		if err := set(f.key, f.v, f.required); err != nil {
			return nil, err
		}
	}
	if dob, ok := fields["dob"].(string); ok && dob != "" {
		if _, err := parseDate(dob); err != nil {
			return nil, invalid("dob", "must be YYYY-MM-DD")
		}
	}
	return fields, nil
}

func (s *Service) UpdatePatient(ctx context.Context, sess session.Session, id string, req PatientUpdate) (*Patient, error) {
	if err := s.authorize(sess, authz.ManagePatients); err != nil {
		return nil, err
	}
	fields, err := req.fields()
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		if err := s.repo.UpdatePatient(ctx, sess.TenantID, id, fields); err != nil {
			return nil, err
		}
	}
	return s.repo.GetPatient(ctx, sess.TenantID, id)
}

func (s *Service) GetPatient(ctx context.Context, sess session.Session, id string) (*Patient, error) {
	if err := s.authorize(sess, authz.ViewPatients); err != nil {
		return nil, err
	}
	return s.repo.GetPatient(ctx, sess.TenantID, id)
}

func (s *Service) ListPatients(ctx context.Context, sess session.Session) ([]Patient, error) {
	if err := s.authorize(sess, authz.ViewPatients); err != nil {
		return nil, err
	}
	return s.repo.ListPatients(ctx, sess.TenantID)
}
