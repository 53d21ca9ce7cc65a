package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hackgods/clinic-opd/internal/store"
)

type storeRepository struct {
	st  store.Store
	ops store.Ops
	tx  bool
}

// NewStoreRepository backs the Repository with an entity store.
func NewStoreRepository(st store.Store) Repository {
	return &storeRepository{st: st, ops: st}
}

func (r *storeRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.tx {
		return fn(ctx, r)
	}
	return r.st.RunInTx(ctx, func(ctx context.Context, ops store.Ops) error {
		return fn(ctx, &storeRepository{st: r.st, ops: ops, tx: true})
	})
}

// Tenants

func (r *storeRepository) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	return getAs[Tenant](ctx, r.ops, store.Tenants, id, id, ErrTenantNotFound)
}

func (r *storeRepository) ListTenants(ctx context.Context) ([]Tenant, error) {
	return listAs[Tenant](ctx, r.ops, store.Tenants, store.Filter{})
}

func (r *storeRepository) SaveTenant(ctx context.Context, t Tenant) error {
	if err := r.ops.Put(ctx, store.Tenants, t.ID, t.ID, t); err != nil {
		return fmt.Errorf("save tenant: %w", err)
	}
	return nil
}

// Users

func (r *storeRepository) GetUser(ctx context.Context, tenantID, id string) (*User, error) {
	return getAs[User](ctx, r.ops, store.Users, tenantID, id, ErrUserNotFound)
}

func (r *storeRepository) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	users, err := listAs[User](ctx, r.ops, store.Users, store.Filter{
		Where: map[string]any{"email": strings.ToLower(strings.TrimSpace(email))},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrUserNotFound
	}
	return &users[0], nil
}

func (r *storeRepository) ListUsers(ctx context.Context, tenantID string) ([]User, error) {
	return listAs[User](ctx, r.ops, store.Users, store.Filter{TenantID: tenantID})
}

func (r *storeRepository) SaveUser(ctx context.Context, u User) error {
	if err := r.ops.Put(ctx, store.Users, u.TenantID, u.ID, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrEmailTaken
		}
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// Patients

func (r *storeRepository) GetPatient(ctx context.Context, tenantID, id string) (*Patient, error) {
	return getAs[Patient](ctx, r.ops, store.Patients, tenantID, id, ErrPatientNotFound)
}

func (r *storeRepository) ListPatients(ctx context.Context, tenantID string) ([]Patient, error) {
	return listAs[Patient](ctx, r.ops, store.Patients, store.Filter{TenantID: tenantID})
}

func (r *storeRepository) CreatePatient(ctx context.Context, p Patient) (*Patient, error) {
	id, err := r.ops.Add(ctx, store.Patients, p.TenantID, p)
	if err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}
	p.ID = id
	return &p, nil
}

func (r *storeRepository) UpdatePatient(ctx context.Context, tenantID, id string, fields map[string]any) error {
	return patch(ctx, r.ops, store.Patients, tenantID, id, fields, ErrPatientNotFound)
}

// Appointments

func (r *storeRepository) GetAppointment(ctx context.Context, tenantID, id string) (*Appointment, error) {
	return getAs[Appointment](ctx, r.ops, store.Appointments, tenantID, id, ErrAppointmentNotFound)
}

func (r *storeRepository) ListAppointments(ctx context.Context, tenantID string, f AppointmentFilter) ([]Appointment, error) {
	where := map[string]any{}
	if f.PatientID != "" {
		where["patientId"] = f.PatientID
	}
	if f.DoctorID != "" {
		where["doctorId"] = f.DoctorID
	}
	if f.Date != "" {
		where["date"] = f.Date
	}
	if f.Status != "" {
		where["status"] = string(f.Status)
	}
	return listAs[Appointment](ctx, r.ops, store.Appointments, store.Filter{TenantID: tenantID, Where: where})
}

func (r *storeRepository) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	id, err := r.ops.Add(ctx, store.Appointments, a.TenantID, a)
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	a.ID = id
	return &a, nil
}

func (r *storeRepository) PatchAppointment(ctx context.Context, tenantID, id string, fields map[string]any) error {
	return patch(ctx, r.ops, store.Appointments, tenantID, id, fields, ErrAppointmentNotFound)
}

// Medical records

func (r *storeRepository) GetRecordForAppointment(ctx context.Context, tenantID, appointmentID string) (*MedicalRecord, error) {
	return findOne[MedicalRecord](ctx, r.ops, store.Records, tenantID, "appointmentId", appointmentID, ErrRecordNotFound)
}

func (r *storeRepository) ListRecords(ctx context.Context, tenantID, patientID string) ([]MedicalRecord, error) {
	f := store.Filter{TenantID: tenantID}
	if patientID != "" {
		f.Where = map[string]any{"patientId": patientID}
	}
	return listAs[MedicalRecord](ctx, r.ops, store.Records, f)
}

func (r *storeRepository) CreateRecord(ctx context.Context, rec MedicalRecord) (*MedicalRecord, error) {
	id, err := r.ops.Add(ctx, store.Records, rec.TenantID, rec)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrRecordExists
		}
		return nil, fmt.Errorf("create medical record: %w", err)
	}
	rec.ID = id
	return &rec, nil
}

// Prescriptions

func (r *storeRepository) GetPrescription(ctx context.Context, tenantID, id string) (*Prescription, error) {
	return getAs[Prescription](ctx, r.ops, store.Prescriptions, tenantID, id, ErrPrescriptionNotFound)
}

func (r *storeRepository) GetPrescriptionForAppointment(ctx context.Context, tenantID, appointmentID string) (*Prescription, error) {
	return findOne[Prescription](ctx, r.ops, store.Prescriptions, tenantID, "appointmentId", appointmentID, ErrPrescriptionNotFound)
}

func (r *storeRepository) ListPrescriptions(ctx context.Context, tenantID string, status PrescriptionStatus) ([]Prescription, error) {
	f := store.Filter{TenantID: tenantID}
	if status != "" {
		f.Where = map[string]any{"status": string(status)}
	}
	return listAs[Prescription](ctx, r.ops, store.Prescriptions, f)
}

func (r *storeRepository) CreatePrescription(ctx context.Context, p Prescription) (*Prescription, error) {
	id, err := r.ops.Add(ctx, store.Prescriptions, p.TenantID, p)
	if err != nil {
		return nil, fmt.Errorf("create prescription: %w", err)
	}
	p.ID = id
	return &p, nil
}

func (r *storeRepository) PatchPrescription(ctx context.Context, tenantID, id string, fields map[string]any) error {
	return patch(ctx, r.ops, store.Prescriptions, tenantID, id, fields, ErrPrescriptionNotFound)
}

// Bills

func (r *storeRepository) GetBill(ctx context.Context, tenantID, id string) (*Bill, error) {
	return getAs[Bill](ctx, r.ops, store.Bills, tenantID, id, ErrBillNotFound)
}

func (r *storeRepository) GetBillForAppointment(ctx context.Context, tenantID, appointmentID string) (*Bill, error) {
	return findOne[Bill](ctx, r.ops, store.Bills, tenantID, "appointmentId", appointmentID, ErrBillNotFound)
}

func (r *storeRepository) ListBills(ctx context.Context, tenantID string) ([]Bill, error) {
	return listAs[Bill](ctx, r.ops, store.Bills, store.Filter{TenantID: tenantID})
}

// CreateBill stores b under a fresh id so the display number can be derived
// before the single write.
func (r *storeRepository) CreateBill(ctx context.Context, b Bill) (*Bill, error) {
	b.ID = NewID()
	b.Number = InvoiceNumber(b.ID)
	if err := r.ops.Put(ctx, store.Bills, b.TenantID, b.ID, b); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrAlreadyBilled
		}
		return nil, fmt.Errorf("create bill: %w", err)
	}
	return &b, nil
}

// Helpers

func getAs[T any](ctx context.Context, ops store.Ops, coll store.Collection, tenantID, id string, notFound error) (*T, error) {
	if id == "" {
		return nil, notFound
	}
	doc, err := ops.Get(ctx, coll, tenantID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound
		}
		return nil, fmt.Errorf("get %s: %w", coll, err)
	}
	var v T
	if err := doc.Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func listAs[T any](ctx context.Context, ops store.Ops, coll store.Collection, f store.Filter) ([]T, error) {
	docs, err := ops.Query(ctx, coll, f)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", coll, err)
	}
	return store.DecodeAll[T](docs)
}

func findOne[T any](ctx context.Context, ops store.Ops, coll store.Collection, tenantID, field, value string, notFound error) (*T, error) {
	items, err := listAs[T](ctx, ops, coll, store.Filter{
		TenantID: tenantID,
		Where:    map[string]any{field: value},
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, notFound
	}
	return &items[0], nil
}

func patch(ctx context.Context, ops store.Ops, coll store.Collection, tenantID, id string, fields map[string]any, notFound error) error {
	if err := ops.Patch(ctx, coll, tenantID, id, fields); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound
		}
		return fmt.Errorf("update %s: %w", coll, err)
	}
	return nil
}
