package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/patient-referral/internal/referral"
)

type LoginRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	OrgID     uuid.UUID `json:"org_id"`
	OrgName   string    `json:"org_name"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RegisterPatientRequest struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	DateOfBirth      string `json:"date_of_birth"` // YYYY-MM-DD
	Gender           string `json:"gender"`
	ContactNumber    string `json:"contact_number"`
	Address          string `json:"address"`
	MedicalHistory   string `json:"medical_history"`
	CurrentDiagnosis string `json:"current_diagnosis"`
	TreatmentPlan    string `json:"treatment_plan"`
}

type AcceptPatientRequest struct {
	Notes string `json:"notes,omitempty"`
}

type TransitionPatientRequest struct {
	Status string `json:"status"` // discharged | transferred
}

type UpdateCapacityRequest struct {
	CurrentCapacity int `json:"current_capacity"`
	UpcomingIntakes int `json:"upcoming_intakes"`
}

type PatientResponse struct {
	ID               uuid.UUID `json:"id"`
	HospitalID       uuid.UUID `json:"hospital_id"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	DateOfBirth      string    `json:"date_of_birth"`
	Gender           string    `json:"gender"`
	ContactNumber    string    `json:"contact_number"`
	Address          string    `json:"address"`
	MedicalHistory   string    `json:"medical_history"`
	CurrentDiagnosis string    `json:"current_diagnosis"`
	TreatmentPlan    string    `json:"treatment_plan"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

type AssignmentResponse struct {
	ID         uuid.UUID `json:"id"`
	PatientID  uuid.UUID `json:"patient_id"`
	NGOID      uuid.UUID `json:"ngo_id"`
	Status     string    `json:"status"`
	Notes      *string   `json:"notes,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}

type AcceptPatientResponse struct {
	Patient    PatientResponse    `json:"patient"`
	Assignment AssignmentResponse `json:"assignment"`
}

type NGOResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Address         string    `json:"address"`
	ContactNumber   string    `json:"contact_number"`
	Email           string    `json:"email"`
	LicenseNumber   string    `json:"license_number"`
	Verified        bool      `json:"verified"`
	TotalCapacity   int       `json:"total_capacity"`
	CurrentCapacity int       `json:"current_capacity"`
	UpcomingIntakes int       `json:"upcoming_intakes"`
}

type HospitalResponse struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	ContactNumber string    `json:"contact_number"`
	Email         string    `json:"email"`
	LicenseNumber string    `json:"license_number"`
	Verified      bool      `json:"verified"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func toPatientResponse(p referral.Patient) PatientResponse {
	return PatientResponse{
		ID:               p.ID,
		HospitalID:       p.HospitalID,
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		DateOfBirth:      p.DateOfBirth.Format("2006-01-02"),
		Gender:           p.Gender,
		ContactNumber:    p.ContactNumber,
		Address:          p.Address,
		MedicalHistory:   p.MedicalHistory,
		CurrentDiagnosis: p.CurrentDiagnosis,
		TreatmentPlan:    p.TreatmentPlan,
		Status:           string(p.Status),
		CreatedAt:        p.CreatedAt,
	}
}

func toPatientResponses(patients []referral.Patient) []PatientResponse {
	out := make([]PatientResponse, 0, len(patients))
	for _, p := range patients {
		out = append(out, toPatientResponse(p))
	}
	return out
}

func toAssignmentResponse(a referral.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:         a.ID,
		PatientID:  a.PatientID,
		NGOID:      a.NGOID,
		Status:     string(a.Status),
		Notes:      a.Notes,
		AssignedAt: a.AssignedAt,
	}
}

func toNGOResponse(n referral.NGO) NGOResponse {
	return NGOResponse{
		ID:              n.ID,
		Name:            n.Name,
		Address:         n.Address,
		ContactNumber:   n.ContactNumber,
		Email:           n.Email,
		LicenseNumber:   n.LicenseNumber,
		Verified:        n.Verified,
		TotalCapacity:   n.TotalCapacity,
		CurrentCapacity: n.CurrentCapacity,
		UpcomingIntakes: n.UpcomingIntakes,
	}
}

func toHospitalResponse(h referral.Hospital) HospitalResponse {
	return HospitalResponse{
		ID:            h.ID,
		Name:          h.Name,
		Address:       h.Address,
		ContactNumber: h.ContactNumber,
		Email:         h.Email,
		LicenseNumber: h.LicenseNumber,
		Verified:      h.Verified,
	}
}
