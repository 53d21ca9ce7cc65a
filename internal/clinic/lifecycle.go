package clinic

import (
	"fmt"
	"strings"
)

// transitions lists the statuses reachable from each status. Completed is
// only entered through FinalizeConsultation.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled:      {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn:      {StatusInConsultation, StatusCompleted, StatusCancelled},
	StatusInConsultation: {StatusCompleted},
}

func ParseAppointmentStatus(raw string) (AppointmentStatus, error) {
	for _, st := range []AppointmentStatus{StatusScheduled, StatusCheckedIn, StatusInConsultation, StatusCompleted, StatusCancelled} {
		if string(st) == raw {
			return st, nil
		}
	}
	return "", invalid("status", fmt.Sprintf("%q is not a known status", raw))
}

func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves st.
func IsTerminal(st AppointmentStatus) bool {
	return len(transitions[st]) == 0
}

func checkTransition(from, to AppointmentStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}
	return nil
}

// VitalsInput is what the front desk captures at check-in. Missing or blank
// values are stored as "N/A".
type VitalsInput struct {
	BP         string `json:"bp"`
	Temp       string `json:"temp"`
	Pulse      string `json:"pulse"`
	Weight     string `json:"weight"`
	SpO2       string `json:"spo2"`
	SugarLevel string `json:"sugarLevel"`
}

const (
	notAvailable       = "N/A"
	noSymptomsRecorded = "None recorded"
)

func (in *VitalsInput) Vitals() Vitals {
	if in == nil {
		in = &VitalsInput{}
	}
	return Vitals{
		BP:         orDefault(in.BP, notAvailable),
		Temp:       orDefault(in.Temp, notAvailable),
		Pulse:      orDefault(in.Pulse, notAvailable),
		Weight:     orDefault(in.Weight, notAvailable),
		SpO2:       orDefault(in.SpO2, notAvailable),
		SugarLevel: orDefault(in.SugarLevel, notAvailable),
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
