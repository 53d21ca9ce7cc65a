package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCan(t *testing.T) {
	tests := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleReceptionist, BookAppointment, true},
		{RoleReceptionist, CheckInAppointment, true},
		{RoleReceptionist, Consult, false},
		{RoleReceptionist, SettleBill, true},
		{RoleReceptionist, Dispense, false},
		{RoleDoctor, Consult, true},
		{RoleDoctor, ViewRecords, true},
		{RoleDoctor, SettleBill, false},
		{RoleDoctor, CancelPrescription, true},
		{RoleDoctor, BookAppointment, false},
		{RolePharmacist, Dispense, true},
		{RolePharmacist, ViewPrescriptions, true},
		{RolePharmacist, ViewPatients, false},
		{RolePharmacist, ViewRecords, false},
		{RoleAdmin, ManageStaff, true},
		{RoleAdmin, ManageSettings, true},
		{RoleAdmin, ManageTenants, false},
		{RoleSuperAdmin, ManageTenants, true},
		{RoleSuperAdmin, ViewPatients, false},
		{Role("Janitor"), ViewStaff, false},
		{RoleAdmin, Action("delete:everything"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+" "+string(tt.action), func(t *testing.T) {
			assert.Equal(t, tt.want, Can(tt.role, tt.action))
		})
	}
}

func TestEveryActionHasAPolicy(t *testing.T) {
	for _, a := range allActions {
		assert.NotEmpty(t, policy[a], "action %s", a)
	}
	assert.Len(t, policy, len(allActions))
}

func TestActions(t *testing.T) {
	assert.Equal(t, []Action{ManageTenants}, Actions(RoleSuperAdmin))
	assert.Equal(t, []Action{ViewPrescriptions, Dispense, ViewStaff, ViewSettings}, Actions(RolePharmacist))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("Pharmacist")
	require.NoError(t, err)
	assert.Equal(t, RolePharmacist, r)

	_, err = ParseRole("pharmacist")
	assert.Error(t, err)
}
