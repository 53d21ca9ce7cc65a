package seed

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-opd/internal/authz"
	"github.com/hackgods/clinic-opd/internal/clinic"
	redisclient "github.com/hackgods/clinic-opd/internal/redis"
	"github.com/hackgods/clinic-opd/internal/store"
)

func TestClinic(t *testing.T) {
	ctx := context.Background()
	svc := clinic.NewService(clinic.NewStoreRepository(store.NewMemory()), redisclient.NewLocalLocker(), zerolog.Nop(), nil)

	res, err := Clinic(ctx, svc, Options{
		ClinicName:   "Sunrise Clinic",
		Doctors:      2,
		Patients:     5,
		Appointments: 6,
		Date:         "2026-03-14",
	}, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, "Sunrise Clinic", res.Tenant.Name)
	assert.Len(t, res.Doctors, 2)
	assert.Equal(t, authz.RoleReceptionist, res.Reception.Role)
	assert.Len(t, res.Patients, 5)
	require.Len(t, res.Appointments, 6)
	assert.Equal(t, "09:00", res.Appointments[0].Time)
	assert.Equal(t, "10:15", res.Appointments[5].Time)

	staff, err := svc.ListStaff(ctx, res.Admin)
	require.NoError(t, err)
	assert.Len(t, staff, 5)

	sess, err := svc.Login(ctx, "admin@sunriseclinic.test", "password123")
	require.NoError(t, err)
	assert.Equal(t, res.Tenant.ID, sess.TenantID)

	appts, err := svc.ListAppointments(ctx, res.Doctors[0], clinic.AppointmentFilter{})
	require.NoError(t, err)
	assert.Len(t, appts, 3)
}

func TestClinicWithoutPatients(t *testing.T) {
	svc := clinic.NewService(clinic.NewStoreRepository(store.NewMemory()), redisclient.NewLocalLocker(), zerolog.Nop(), nil)

	res, err := Clinic(context.Background(), svc, Options{Appointments: 3}, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, res.Doctors, 1)
	assert.Empty(t, res.Appointments)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "sunriseclinic", slug("Sunrise Clinic"))
	assert.Equal(t, "clinic", slug("!!"))
}
