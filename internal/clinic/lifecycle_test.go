package clinic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []AppointmentStatus{StatusScheduled, StatusCheckedIn, StatusInConsultation, StatusCompleted, StatusCancelled}
	allowed := map[[2]AppointmentStatus]bool{
		{StatusScheduled, StatusCheckedIn}:      true,
		{StatusScheduled, StatusCancelled}:      true,
		{StatusCheckedIn, StatusInConsultation}: true,
		{StatusCheckedIn, StatusCompleted}:      true,
		{StatusCheckedIn, StatusCancelled}:      true,
		{StatusInConsultation, StatusCompleted}: true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]AppointmentStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}

	assert.False(t, CanTransition(StatusScheduled, StatusCompleted))
	assert.True(t, IsTerminal(StatusCompleted))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.False(t, IsTerminal(StatusCheckedIn))
}

func TestVitalsDefaults(t *testing.T) {
	var missing *VitalsInput
	assert.Equal(t, Vitals{"N/A", "N/A", "N/A", "N/A", "N/A", "N/A"}, missing.Vitals())

	partial := &VitalsInput{BP: "118/76", Pulse: "  ", SpO2: "98%"}
	assert.Equal(t, Vitals{
		BP:         "118/76",
		Temp:       "N/A",
		Pulse:      "N/A",
		Weight:     "N/A",
		SpO2:       "98%",
		SugarLevel: "N/A",
	}, partial.Vitals())
}

func TestParseAppointmentStatus(t *testing.T) {
	st, err := ParseAppointmentStatus("Checked-in")
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, st)

	_, err = ParseAppointmentStatus("checked-in")
	assert.ErrorIs(t, err, ErrValidation)
}
