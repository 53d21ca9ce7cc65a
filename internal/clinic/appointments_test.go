package clinic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	appt := f.book(t, "2026-03-14", "09:30")
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, "Kiran Shah", appt.PatientName)
	assert.Equal(t, "Dr. Ravi Rao", appt.DoctorName)
	assert.Nil(t, appt.Vitals)
	assert.NotEmpty(t, appt.ID)

	valid := BookRequest{PatientID: f.patient.ID, DoctorID: f.doctor.UserID, Date: "2026-03-14", Time: "10:00"}

	tests := []struct {
		name   string
		mutate func(*BookRequest)
		want   error
	}{
		{"missing patient", func(r *BookRequest) { r.PatientID = "" }, ErrValidation},
		{"missing doctor", func(r *BookRequest) { r.DoctorID = " " }, ErrValidation},
		{"missing date", func(r *BookRequest) { r.Date = "" }, ErrValidation},
		{"missing time", func(r *BookRequest) { r.Time = "" }, ErrValidation},
		{"bad date", func(r *BookRequest) { r.Date = "14/03/2026" }, ErrValidation},
		{"bad time", func(r *BookRequest) { r.Time = "9am" }, ErrValidation},
		{"unknown patient", func(r *BookRequest) { r.PatientID = NewID() }, ErrPatientNotFound},
		{"not a doctor", func(r *BookRequest) { r.DoctorID = f.pharmacist.UserID }, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := f.svc.Book(ctx, f.reception, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := f.svc.Book(ctx, f.doctor, valid)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 1, f.count(t, "appointments"))
}

func TestCheckInWithoutVitals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, "2026-03-14", "09:30")

	got, err := f.svc.CheckIn(ctx, f.reception, appt.ID, CheckInRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, got.Status)
	require.NotNil(t, got.Vitals)
	assert.Equal(t, Vitals{"N/A", "N/A", "N/A", "N/A", "N/A", "N/A"}, *got.Vitals)
	assert.Equal(t, "None recorded", got.InitialSymptoms)

	stored, err := f.svc.GetAppointment(ctx, f.admin, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored)
}

func TestCheckInEmptyIDIsNoop(t *testing.T) {
	f := newFixture(t)
	f.book(t, "2026-03-14", "09:30")

	got, err := f.svc.CheckIn(context.Background(), f.reception, "", CheckInRequest{})
	assert.NoError(t, err)
	assert.Nil(t, got)

	appts, err := f.svc.ListAppointments(context.Background(), f.admin, AppointmentFilter{})
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, StatusScheduled, appts[0].Status)
}

func TestCheckInTwiceRejected(t *testing.T) {
	f := newFixture(t)
	appt := f.checkedIn(t, "2026-03-14", "09:30")

	_, err := f.svc.CheckIn(context.Background(), f.reception, appt.ID, CheckInRequest{InitialSymptoms: "cough"})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	stored, err := f.svc.GetAppointment(context.Background(), f.admin, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fever, body ache", stored.InitialSymptoms)
}

func TestUpdateAppointmentStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt := f.book(t, "2026-03-14", "09:30")

	_, err := f.svc.UpdateAppointmentStatus(ctx, f.admin, appt.ID, StatusCompleted, CheckInRequest{})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = f.svc.UpdateAppointmentStatus(ctx, f.admin, appt.ID, StatusScheduled, CheckInRequest{})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = f.svc.UpdateAppointmentStatus(ctx, f.admin, appt.ID, StatusInConsultation, CheckInRequest{})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	got, err := f.svc.UpdateAppointmentStatus(ctx, f.reception, appt.ID, StatusCheckedIn, CheckInRequest{
		Vitals: &VitalsInput{Weight: "64kg"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, got.Status)
	assert.Equal(t, "64kg", got.Vitals.Weight)
	assert.Equal(t, "N/A", got.Vitals.BP)

	got, err = f.svc.UpdateAppointmentStatus(ctx, f.doctor, appt.ID, StatusInConsultation, CheckInRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusInConsultation, got.Status)

	_, err = f.svc.UpdateAppointmentStatus(ctx, f.doctor, appt.ID, StatusCancelled, CheckInRequest{})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	stored, err := f.svc.GetAppointment(ctx, f.admin, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInConsultation, stored.Status)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	scheduled := f.book(t, "2026-03-14", "09:30")
	got, err := f.svc.Cancel(ctx, f.reception, scheduled.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	_, err = f.svc.CheckIn(ctx, f.reception, scheduled.ID, CheckInRequest{})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	_, err = f.svc.Cancel(ctx, f.reception, scheduled.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	checkedIn := f.checkedIn(t, "2026-03-14", "10:00")
	got, err = f.svc.Cancel(ctx, f.doctor, checkedIn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	_, err = f.svc.FinalizeConsultation(ctx, f.doctor, checkedIn.ID, fluConsultation())
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = f.svc.Cancel(ctx, f.pharmacist, scheduled.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Cancel(ctx, f.reception, NewID())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestDoctorSeesOwnAppointments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other := f.staff(t, "Dr. Lata Iyer", "lata@sunrise.test", "Doctor")

	f.book(t, "2026-03-14", "09:30")
	_, err := f.svc.Book(ctx, f.reception, BookRequest{
		PatientID: f.patient.ID,
		DoctorID:  other.UserID,
		Date:      "2026-03-14",
		Time:      "11:00",
	})
	require.NoError(t, err)

	mine, err := f.svc.ListAppointments(ctx, f.doctor, AppointmentFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, f.doctor.UserID, mine[0].DoctorID)

	all, err := f.svc.ListAppointments(ctx, f.reception, AppointmentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byDoctor, err := f.svc.ListAppointments(ctx, f.reception, AppointmentFilter{DoctorID: other.UserID})
	require.NoError(t, err)
	assert.Len(t, byDoctor, 1)
}
