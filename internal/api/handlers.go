package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebridge/patient-referral/internal/dashboard"
	"github.com/carebridge/patient-referral/internal/referral"
	"github.com/carebridge/patient-referral/internal/session"
)

func actorFromSession(sess *session.Session) referral.Actor {
	return referral.Actor{OrgID: sess.OrgID, Role: sess.Role}
}

func loginHandler(mgr SessionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		role := referral.Role(req.Role)
		if role != referral.RoleHospital && role != referral.RoleNGO {
			writeError(w, http.StatusBadRequest, "invalid_role", "role must be hospital or ngo")
			return
		}

		sess, err := mgr.Login(r.Context(), req.Email, role)
		if err != nil {
			if errors.Is(err, session.ErrUnknownAccount) {
				writeError(w, http.StatusUnauthorized, "unknown_account", "no account for that email and role")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, LoginResponse{
			Token:     sess.Token,
			OrgID:     sess.OrgID,
			OrgName:   sess.OrgName,
			Role:      string(sess.Role),
			ExpiresAt: sess.ExpiresAt,
		})
	}
}

func logoutHandler(mgr SessionStore, registry *DashboardRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		registry.Drop(token)

		if err := mgr.Logout(r.Context(), token); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func registerPatientHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}

		var req RegisterPatientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		dob, err := time.Parse("2006-01-02", req.DateOfBirth)
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
				Error:  "validation_failed",
				Fields: map[string]string{"date_of_birth": "must be YYYY-MM-DD"},
			})
			return
		}

		patient, err := svc.RegisterPatient(r.Context(), actorFromSession(sess), referral.RegisterPatientInput{
			FirstName:        req.FirstName,
			LastName:         req.LastName,
			DateOfBirth:      dob,
			Gender:           req.Gender,
			ContactNumber:    req.ContactNumber,
			Address:          req.Address,
			MedicalHistory:   req.MedicalHistory,
			CurrentDiagnosis: req.CurrentDiagnosis,
			TreatmentPlan:    req.TreatmentPlan,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toPatientResponse(*patient))
	}
}

func listPatientsHandler(repo referral.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}

		filter := referral.PatientFilter{}
		if s := r.URL.Query().Get("status"); s != "" {
			filter.Status = referral.PatientStatus(s)
		}

		// Hospitals only ever see their own patients; NGOs see the shared
		// pending pool.
		switch sess.Role {
		case referral.RoleHospital:
			filter.HospitalID = sess.OrgID
		case referral.RoleNGO:
			if filter.Status == "" {
				filter.Status = referral.StatusPending
			}
		}

		patients, err := repo.ListPatients(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "fetch_failed", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toPatientResponses(patients))
	}
}

func acceptPatientHandler(svc *referral.Service, registry *DashboardRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}

		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		var req AcceptPatientRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		var notes *string
		if req.Notes != "" {
			notes = &req.Notes
		}

		accepted, err := svc.AcceptPatient(r.Context(), actorFromSession(sess), patientID, notes)
		if err != nil {
			handleAcceptError(w, err)
			return
		}

		// Optimistic update: the patient leaves this client's available
		// list right away; the notification-driven reload confirms it.
		if vm := registry.Peek(sess.Token); vm != nil {
			vm.AcceptLocally(patientID)
		}

		writeJSON(w, http.StatusOK, AcceptPatientResponse{
			Patient:    toPatientResponse(accepted.Patient),
			Assignment: toAssignmentResponse(accepted.Assignment),
		})
	}
}

func transitionPatientHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}

		patientID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		var req TransitionPatientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patient, err := svc.TransitionPatient(r.Context(), actorFromSession(sess), patientID, referral.PatientStatus(req.Status))
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toPatientResponse(*patient))
	}
}

func updateCapacityHandler(svc *referral.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}

		var req UpdateCapacityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		ngo, err := svc.UpdateCapacity(r.Context(), actorFromSession(sess), req.CurrentCapacity, req.UpcomingIntakes)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toNGOResponse(*ngo))
	}
}

func dashboardHandler(registry *DashboardRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}

		vm, err := registry.Get(sess)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "dashboard_load_failed", err.Error())
			return
		}

		snap := vm.Snapshot()
		if q := r.URL.Query().Get("q"); q != "" {
			snap.AvailablePatients = dashboard.FilterByName(snap.AvailablePatients, q)
			snap.ScopedPatients = dashboard.FilterByName(snap.ScopedPatients, q)
		}

		writeJSON(w, http.StatusOK, snap)
	}
}

func dashboardRefreshHandler(registry *DashboardRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := requireSession(w, r)
		if sess == nil {
			return
		}

		vm, err := registry.Get(sess)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "dashboard_load_failed", err.Error())
			return
		}

		if err := vm.Refresh(r.Context()); err != nil {
			// The snapshot keeps last-known-good data; surface the failure
			// as a transient error alongside it.
			writeJSON(w, http.StatusOK, vm.Snapshot())
			return
		}

		writeJSON(w, http.StatusOK, vm.Snapshot())
	}
}

func getHospitalHandler(repo referral.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_hospital_id", "id must be a valid UUID")
			return
		}

		h, err := repo.GetHospitalByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, referral.ErrHospitalNotFound) {
				writeError(w, http.StatusNotFound, "hospital_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "fetch_failed", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toHospitalResponse(*h))
	}
}

func getNGOHandler(repo referral.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_ngo_id", "id must be a valid UUID")
			return
		}

		n, err := repo.GetNGOByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, referral.ErrNGONotFound) {
				writeError(w, http.StatusNotFound, "ngo_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "fetch_failed", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toNGOResponse(*n))
	}
}

// handleAcceptError keeps the race outcome distinct from hard failures:
// the UI shows a different message for a lost race than for a broken
// store.
func handleAcceptError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, referral.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
	case errors.Is(err, referral.ErrWrongRole):
		writeError(w, http.StatusForbidden, "wrong_role", err.Error())
	case errors.Is(err, referral.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, referral.ErrAlreadyAssigned):
		writeError(w, http.StatusConflict, "already_assigned", "patient has already been accepted by another organization")
	case errors.Is(err, referral.ErrAcceptInFlight):
		writeError(w, http.StatusConflict, "accept_in_flight", "patient is currently being accepted, please retry shortly")
	case errors.Is(err, referral.ErrAssignmentCreateFailed):
		writeError(w, http.StatusBadGateway, "assignment_create_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	var verr *referral.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "validation_failed", Fields: verr.Fields})
	case errors.Is(err, referral.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
	case errors.Is(err, referral.ErrWrongRole):
		writeError(w, http.StatusForbidden, "wrong_role", err.Error())
	case errors.Is(err, referral.ErrNotOwningHospital):
		writeError(w, http.StatusForbidden, "not_owning_hospital", err.Error())
	case errors.Is(err, referral.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, referral.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
