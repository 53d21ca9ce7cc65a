// Package authz is the role-based access policy for clinic staff.
package authz

import "fmt"

type Role string

const (
	RoleSuperAdmin   Role = "SuperAdmin"
	RoleAdmin        Role = "Admin"
	RoleDoctor       Role = "Doctor"
	RoleReceptionist Role = "Receptionist"
	RolePharmacist   Role = "Pharmacist"
)

// StaffRoles are the roles a tenant admin may assign.
var StaffRoles = []Role{RoleAdmin, RoleDoctor, RoleReceptionist, RolePharmacist}

func ParseRole(raw string) (Role, error) {
	for _, r := range append(StaffRoles, RoleSuperAdmin) {
		if string(r) == raw {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

type Action string

const (
	ViewPatients       Action = "view:patients"
	ManagePatients     Action = "manage:patients"
	ViewAppointments   Action = "view:appointments"
	BookAppointment    Action = "book:appointment"
	CheckInAppointment Action = "checkin:appointment"
	CancelAppointment  Action = "cancel:appointment"
	Consult            Action = "consult"
	ViewRecords        Action = "view:records"
	ViewBilling        Action = "view:billing"
	SettleBill         Action = "settle:bill"
	ViewPrescriptions  Action = "view:prescriptions"
	Dispense           Action = "dispense"
	CancelPrescription Action = "cancel:prescription"
	ViewStaff          Action = "view:staff"
	ManageStaff        Action = "manage:staff"
	ViewSettings       Action = "view:settings"
	ManageSettings     Action = "manage:settings"
	ManageTenants      Action = "manage:tenants"
)

var policy = map[Action][]Role{
	ViewPatients:       {RoleAdmin, RoleDoctor, RoleReceptionist},
	ManagePatients:     {RoleAdmin, RoleReceptionist},
	ViewAppointments:   {RoleAdmin, RoleDoctor, RoleReceptionist},
	BookAppointment:    {RoleAdmin, RoleReceptionist},
	CheckInAppointment: {RoleAdmin, RoleReceptionist},
	CancelAppointment:  {RoleAdmin, RoleDoctor, RoleReceptionist},
	Consult:            {RoleAdmin, RoleDoctor},
	ViewRecords:        {RoleAdmin, RoleDoctor},
	ViewBilling:        {RoleAdmin, RoleReceptionist},
	SettleBill:         {RoleAdmin, RoleReceptionist},
	ViewPrescriptions:  {RoleAdmin, RoleDoctor, RolePharmacist},
	Dispense:           {RoleAdmin, RolePharmacist},
	CancelPrescription: {RoleAdmin, RoleDoctor},
	ViewStaff:          {RoleAdmin, RoleDoctor, RoleReceptionist, RolePharmacist},
	ManageStaff:        {RoleAdmin},
	ViewSettings:       {RoleAdmin, RoleDoctor, RoleReceptionist, RolePharmacist},
	ManageSettings:     {RoleAdmin},
	ManageTenants:      {RoleSuperAdmin},
}

// Can reports whether role may perform action. Unknown actions are denied.
func Can(role Role, action Action) bool {
	for _, r := range policy[action] {
		if r == role {
			return true
		}
	}
	return false
}

// Actions lists every action role may perform, in policy order.
func Actions(role Role) []Action {
	var out []Action
	for _, a := range allActions {
		if Can(role, a) {
			out = append(out, a)
		}
	}
	return out
}

var allActions = []Action{
	ViewPatients, ManagePatients, ViewAppointments, BookAppointment, CheckInAppointment,
	CancelAppointment, Consult, ViewRecords, ViewBilling, SettleBill, ViewPrescriptions,
	Dispense, CancelPrescription, ViewStaff, ManageStaff, ViewSettings, ManageSettings,
	ManageTenants,
}
