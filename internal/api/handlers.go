package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-opd/internal/clinic"
	"github.com/hackgods/clinic-opd/internal/invoice"
	"github.com/hackgods/clinic-opd/internal/session"
)

type handlers struct {
	svc    *clinic.Service
	issuer *session.Issuer
	logger zerolog.Logger
}

// Auth

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req, false) {
		return
	}
	sess, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	token, exp, err := h.issuer.Issue(sess)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: exp, Session: sess})
}

func (h *handlers) signup(w http.ResponseWriter, r *http.Request) {
	var req clinic.SignupRequest
	if !decode(w, r, &req, false) {
		return
	}
	tenant, admin, err := h.svc.Signup(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SignupResponse{Tenant: *tenant, Admin: toStaffResponse(*admin)})
}

func (h *handlers) snapshot(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	snap, err := h.svc.Snapshot(r.Context(), sess)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	resp := SnapshotResponse{
		Settings:      snap.Settings,
		Patients:      snap.Patients,
		Appointments:  snap.Appointments,
		Records:       snap.Records,
		Prescriptions: snap.Prescriptions,
		Bills:         snap.Bills,
	}
	if snap.Staff != nil {
		resp.Staff = toStaffResponses(snap.Staff)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Patients

func (h *handlers) listPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.svc.ListPatients(r.Context(), mustSession(r))
	respond(h, w, r, http.StatusOK, patients, err)
}

func (h *handlers) addPatient(w http.ResponseWriter, r *http.Request) {
	var req clinic.PatientRequest
	if !decode(w, r, &req, false) {
		return
	}
	p, err := h.svc.AddPatient(r.Context(), mustSession(r), req)
	respond(h, w, r, http.StatusCreated, p, err)
}

func (h *handlers) getPatient(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPatient(r.Context(), mustSession(r), chi.URLParam(r, "id"))
	respond(h, w, r, http.StatusOK, p, err)
}

func (h *handlers) updatePatient(w http.ResponseWriter, r *http.Request) {
	var req clinic.PatientUpdate
	if !decode(w, r, &req, false) {
		return
	}
	p, err := h.svc.UpdatePatient(r.Context(), mustSession(r), chi.URLParam(r, "id"), req)
	respond(h, w, r, http.StatusOK, p, err)
}

// Appointments

func (h *handlers) listAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := clinic.AppointmentFilter{
		PatientID: q.Get("patientId"),
		DoctorID:  q.Get("doctorId"),
		Date:      q.Get("date"),
	}
	if raw := q.Get("status"); raw != "" {
		st, err := clinic.ParseAppointmentStatus(raw)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		f.Status = st
	}
	appts, err := h.svc.ListAppointments(r.Context(), mustSession(r), f)
	respond(h, w, r, http.StatusOK, appts, err)
}

func (h *handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req clinic.BookRequest
	if !decode(w, r, &req, false) {
		return
	}
	appt, err := h.svc.Book(r.Context(), mustSession(r), req)
	respond(h, w, r, http.StatusCreated, appt, err)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.GetAppointment(r.Context(), mustSession(r), chi.URLParam(r, "id"))
	respond(h, w, r, http.StatusOK, appt, err)
}

func (h *handlers) checkIn(w http.ResponseWriter, r *http.Request) {
	var req clinic.CheckInRequest
	if !decode(w, r, &req, true) {
		return
	}
	appt, err := h.svc.CheckIn(r.Context(), mustSession(r), chi.URLParam(r, "id"), req)
	respond(h, w, r, http.StatusOK, appt, err)
}

func (h *handlers) startConsultation(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.StartConsultation(r.Context(), mustSession(r), chi.URLParam(r, "id"))
	respond(h, w, r, http.StatusOK, appt, err)
}

func (h *handlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decode(w, r, &req, false) {
		return
	}
	st, err := clinic.ParseAppointmentStatus(req.Status)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	appt, err := h.svc.UpdateAppointmentStatus(r.Context(), mustSession(r), chi.URLParam(r, "id"), st, clinic.CheckInRequest{
		Vitals:          req.Vitals,
		InitialSymptoms: req.InitialSymptoms,
	})
	respond(h, w, r, http.StatusOK, appt, err)
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.Cancel(r.Context(), mustSession(r), chi.URLParam(r, "id"))
	respond(h, w, r, http.StatusOK, appt, err)
}

func (h *handlers) finalize(w http.ResponseWriter, r *http.Request) {
	var req clinic.ConsultationRequest
	if !decode(w, r, &req, false) {
		return
	}
	c, err := h.svc.FinalizeConsultation(r.Context(), mustSession(r), chi.URLParam(r, "id"), req)
	respond(h, w, r, http.StatusCreated, c, err)
}

func (h *handlers) listRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListRecords(r.Context(), mustSession(r), r.URL.Query().Get("patientId"))
	respond(h, w, r, http.StatusOK, records, err)
}

// Billing

func (h *handlers) pendingInvoices(w http.ResponseWriter, r *http.Request) {
	pending, err := h.svc.PendingInvoices(r.Context(), mustSession(r))
	respond(h, w, r, http.StatusOK, pending, err)
}

func (h *handlers) draftInvoice(w http.ResponseWriter, r *http.Request) {
	draft, err := h.svc.DraftInvoice(r.Context(), mustSession(r), chi.URLParam(r, "appointmentId"))
	respond(h, w, r, http.StatusOK, draft, err)
}

func (h *handlers) listBills(w http.ResponseWriter, r *http.Request) {
	bills, err := h.svc.ListBills(r.Context(), mustSession(r))
	respond(h, w, r, http.StatusOK, bills, err)
}

func (h *handlers) settle(w http.ResponseWriter, r *http.Request) {
	var req clinic.SettleRequest
	if !decode(w, r, &req, false) {
		return
	}
	bill, err := h.svc.Settle(r.Context(), mustSession(r), req)
	respond(h, w, r, http.StatusCreated, bill, err)
}

func (h *handlers) invoiceHTML(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Invoice(r.Context(), mustSession(r), chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeRendered(w, r, map[string]string{
		"Content-Type": "text/html; charset=utf-8",
	}, func(buf io.Writer) error {
		return invoice.Render(buf, *view)
	})
}

func (h *handlers) exportBills(w http.ResponseWriter, r *http.Request) {
	sess := mustSession(r)
	bills, err := h.svc.ListBills(r.Context(), sess)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	names := make(map[string]string)
	if patients, err := h.svc.ListPatients(r.Context(), sess); err == nil {
		for _, p := range patients {
			names[p.ID] = p.FullName()
		}
	}
	h.writeRendered(w, r, map[string]string{
		"Content-Type":        "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"Content-Disposition": `attachment; filename="bills.xlsx"`,
	}, func(buf io.Writer) error {
		return invoice.ExportBills(buf, bills, names)
	})
}

// writeRendered buffers a document so a render failure can still be
// reported as an error response instead of a truncated 200.
func (h *handlers) writeRendered(w http.ResponseWriter, r *http.Request, headers map[string]string, render func(io.Writer) error) {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		h.handleError(w, r, fmt.Errorf("render document: %w", err))
		return
	}
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// Pharmacy

func (h *handlers) pharmacyQueue(w http.ResponseWriter, r *http.Request) {
	status := clinic.PrescriptionStatus(r.URL.Query().Get("status"))
	queue, err := h.svc.PharmacyQueue(r.Context(), mustSession(r), status)
	respond(h, w, r, http.StatusOK, queue, err)
}

func (h *handlers) dispense(w http.ResponseWriter, r *http.Request) {
	rx, err := h.svc.Dispense(r.Context(), mustSession(r), chi.URLParam(r, "id"))
	respond(h, w, r, http.StatusOK, rx, err)
}

func (h *handlers) cancelPrescription(w http.ResponseWriter, r *http.Request) {
	rx, err := h.svc.CancelPrescription(r.Context(), mustSession(r), chi.URLParam(r, "id"))
	respond(h, w, r, http.StatusOK, rx, err)
}

// Staff, settings, tenants

func (h *handlers) listStaff(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListStaff(r.Context(), mustSession(r))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStaffResponses(users))
}

func (h *handlers) addStaff(w http.ResponseWriter, r *http.Request) {
	var req clinic.StaffRequest
	if !decode(w, r, &req, false) {
		return
	}
	u, err := h.svc.AddStaff(r.Context(), mustSession(r), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStaffResponse(*u))
}

func (h *handlers) settings(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Settings(r.Context(), mustSession(r))
	respond(h, w, r, http.StatusOK, t, err)
}

func (h *handlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req clinic.SettingsUpdate
	if !decode(w, r, &req, false) {
		return
	}
	t, err := h.svc.UpdateSettings(r.Context(), mustSession(r), req)
	respond(h, w, r, http.StatusOK, t, err)
}

func (h *handlers) listTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.svc.ListTenants(r.Context(), mustSession(r))
	respond(h, w, r, http.StatusOK, tenants, err)
}

func (h *handlers) setTenantStatus(w http.ResponseWriter, r *http.Request) {
	var req TenantStatusRequest
	if !decode(w, r, &req, false) {
		return
	}
	t, err := h.svc.SetTenantStatus(r.Context(), mustSession(r), chi.URLParam(r, "id"), req.Status)
	respond(h, w, r, http.StatusOK, t, err)
}

// Helpers

// mustSession returns the session Authenticate stored. Routes outside the
// authenticated group never call it.
func mustSession(r *http.Request) session.Session {
	sess, _ := session.FromContext(r.Context())
	return sess
}

// decode reads a JSON body into v. An empty body is accepted when optional.
func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
	return false
}

func respond(h *handlers, w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

func (h *handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, clinic.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, session.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrNoSession):
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, clinic.ErrTenantSuspended):
		writeError(w, http.StatusForbidden, "tenant_suspended", err.Error())
	case errors.Is(err, clinic.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, clinic.ErrTenantNotFound),
		errors.Is(err, clinic.ErrUserNotFound),
		errors.Is(err, clinic.ErrPatientNotFound),
		errors.Is(err, clinic.ErrAppointmentNotFound),
		errors.Is(err, clinic.ErrRecordNotFound),
		errors.Is(err, clinic.ErrPrescriptionNotFound),
		errors.Is(err, clinic.ErrBillNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, clinic.ErrFinalizeRequired):
		writeError(w, http.StatusConflict, "finalize_required", err.Error())
	case errors.Is(err, clinic.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, clinic.ErrAlreadyBilled):
		writeError(w, http.StatusConflict, "already_billed", err.Error())
	case errors.Is(err, clinic.ErrNotBillable):
		writeError(w, http.StatusConflict, "not_billable", err.Error())
	case errors.Is(err, clinic.ErrRecordExists):
		writeError(w, http.StatusConflict, "record_exists", err.Error())
	case errors.Is(err, clinic.ErrPrescriptionNotPending):
		writeError(w, http.StatusConflict, "prescription_not_pending", err.Error())
	case errors.Is(err, clinic.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email_taken", err.Error())
	case errors.Is(err, clinic.ErrAppointmentBusy), errors.Is(err, clinic.ErrPrescriptionBusy):
		writeError(w, http.StatusConflict, "busy", err.Error())
	default:
		h.logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", GetRequestID(r.Context())).
			Msg("request failed")
		msg := "internal error"
		if r.Method != http.MethodGet {
			msg = "error saving"
		}
		writeError(w, http.StatusInternalServerError, "internal_error", msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
