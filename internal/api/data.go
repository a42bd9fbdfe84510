package api

import (
	"net/http"

	"github.com/carebridge/patient-referral/internal/fixtures"
)

// dataHandler is the legacy read-only demo surface: static JSON fixtures
// filtered server-side. Unknown type is 400, a fixture read failure is 500.
func dataHandler(store *fixtures.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		switch q.Get("type") {
		case "patients":
			patients, err := store.Patients(q.Get("status"), q.Get("hospitalId"))
			if err != nil {
				writeError(w, http.StatusInternalServerError, "data_read_failed", err.Error())
				return
			}
			writeJSON(w, http.StatusOK, patients)

		case "hospitals":
			if id := q.Get("id"); id != "" {
				h, err := store.HospitalByID(id)
				if err != nil {
					writeError(w, http.StatusInternalServerError, "data_read_failed", err.Error())
					return
				}
				writeJSON(w, http.StatusOK, h)
				return
			}
			hospitals, err := store.Hospitals()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "data_read_failed", err.Error())
				return
			}
			writeJSON(w, http.StatusOK, hospitals)

		case "ngos":
			if id := q.Get("id"); id != "" {
				n, err := store.NGOByID(id)
				if err != nil {
					writeError(w, http.StatusInternalServerError, "data_read_failed", err.Error())
					return
				}
				writeJSON(w, http.StatusOK, n)
				return
			}
			ngos, err := store.NGOs()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "data_read_failed", err.Error())
				return
			}
			writeJSON(w, http.StatusOK, ngos)

		default:
			writeError(w, http.StatusBadRequest, "invalid_data_type", "type must be patients, hospitals, or ngos")
		}
	}
}
