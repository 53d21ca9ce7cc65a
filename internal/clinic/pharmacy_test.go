package clinic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispense(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.completed(t, "2026-03-14", "09:30")

	rx, err := f.svc.Dispense(ctx, f.pharmacist, c.Prescription.ID)
	require.NoError(t, err)
	assert.Equal(t, PrescriptionDispensed, rx.Status)
	assert.Equal(t, f.pharmacist.UserID, rx.DispensedBy)
	require.NotNil(t, rx.DispensedAt)
	assert.True(t, rx.DispensedAt.Equal(fixedNow))

	_, err = f.svc.Dispense(ctx, f.pharmacist, c.Prescription.ID)
	assert.ErrorIs(t, err, ErrPrescriptionNotPending)

	_, err = f.svc.CancelPrescription(ctx, f.doctor, c.Prescription.ID)
	assert.ErrorIs(t, err, ErrPrescriptionNotPending)

	queue, err := f.svc.PharmacyQueue(ctx, f.pharmacist, PrescriptionDispensed)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, f.pharmacist.UserID, queue[0].Prescription.DispensedBy)
}

func TestCancelPrescription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.completed(t, "2026-03-14", "09:30")

	rx, err := f.svc.CancelPrescription(ctx, f.doctor, c.Prescription.ID)
	require.NoError(t, err)
	assert.Equal(t, PrescriptionCancelled, rx.Status)
	assert.Nil(t, rx.DispensedAt)

	_, err = f.svc.Dispense(ctx, f.pharmacist, c.Prescription.ID)
	assert.ErrorIs(t, err, ErrPrescriptionNotPending)

	pending, err := f.svc.PharmacyQueue(ctx, f.pharmacist, PrescriptionPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPharmacyRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := f.completed(t, "2026-03-14", "09:30")

	_, err := f.svc.Dispense(ctx, f.reception, c.Prescription.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Dispense(ctx, f.doctor, c.Prescription.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.CancelPrescription(ctx, f.pharmacist, c.Prescription.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.PharmacyQueue(ctx, f.reception, "")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Dispense(ctx, f.pharmacist, NewID())
	assert.ErrorIs(t, err, ErrPrescriptionNotFound)
}

func TestPharmacyQueueOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	oldest := f.completed(t, "2026-03-13", "09:00")
	morning := f.completed(t, "2026-03-14", "09:30")
	latest := f.completed(t, "2026-03-14", "11:00")

	queue, err := f.svc.PharmacyQueue(ctx, f.pharmacist, PrescriptionPending)
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, latest.Prescription.ID, queue[0].Prescription.ID)
	assert.Equal(t, morning.Prescription.ID, queue[1].Prescription.ID)
	assert.Equal(t, oldest.Prescription.ID, queue[2].Prescription.ID)

	assert.Equal(t, "Kiran Shah", queue[0].PatientName)
	assert.Equal(t, "Dr. Ravi Rao", queue[0].DoctorName)
	assert.Equal(t, "11:00", queue[0].VisitTime)

	_, err = f.svc.Dispense(ctx, f.pharmacist, morning.Prescription.ID)
	require.NoError(t, err)

	all, err := f.svc.PharmacyQueue(ctx, f.pharmacist, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	pending, err := f.svc.PharmacyQueue(ctx, f.pharmacist, PrescriptionPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, latest.Prescription.ID, pending[0].Prescription.ID)
	assert.Equal(t, oldest.Prescription.ID, pending[1].Prescription.ID)
}
