package referral

import (
	"time"

	"github.com/google/uuid"
)

type PatientStatus string

const (
	StatusPending     PatientStatus = "pending"
	StatusAssigned    PatientStatus = "assigned"
	StatusDischarged  PatientStatus = "discharged"
	StatusTransferred PatientStatus = "transferred"
)

type AssignmentStatus string

const (
	AssignmentAccepted AssignmentStatus = "accepted"
	// AssignmentVoided marks an orphaned assignment cancelled by the
	// reconciler: its patient never left pending.
	AssignmentVoided AssignmentStatus = "voided"
)

type Role string

const (
	RoleHospital Role = "hospital"
	RoleNGO      Role = "ngo"
)

type Patient struct {
	ID               uuid.UUID     `json:"id"`
	HospitalID       uuid.UUID     `json:"hospital_id"`
	FirstName        string        `json:"first_name"`
	LastName         string        `json:"last_name"`
	DateOfBirth      time.Time     `json:"date_of_birth"`
	Gender           string        `json:"gender"`
	ContactNumber    string        `json:"contact_number"`
	Address          string        `json:"address"`
	MedicalHistory   string        `json:"medical_history"`
	CurrentDiagnosis string        `json:"current_diagnosis"`
	TreatmentPlan    string        `json:"treatment_plan"`
	Status           PatientStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type Assignment struct {
	ID         uuid.UUID        `json:"id"`
	PatientID  uuid.UUID        `json:"patient_id"`
	NGOID      uuid.UUID        `json:"ngo_id"`
	Status     AssignmentStatus `json:"status"`
	Notes      *string          `json:"notes,omitempty"`
	AssignedAt time.Time        `json:"assigned_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

type Hospital struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	ContactNumber string    `json:"contact_number"`
	Email         string    `json:"email"`
	LicenseNumber string    `json:"license_number"`
	Verified      bool      `json:"verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type NGO struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Address         string    `json:"address"`
	ContactNumber   string    `json:"contact_number"`
	Email           string    `json:"email"`
	LicenseNumber   string    `json:"license_number"`
	Verified        bool      `json:"verified"`
	TotalCapacity   int       `json:"total_capacity"`
	CurrentCapacity int       `json:"current_capacity"` // percent occupied
	UpcomingIntakes int       `json:"upcoming_intakes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type EventLog struct {
	ID        int64      `json:"id"`
	EventType string     `json:"event_type"`
	PatientID *uuid.UUID `json:"patient_id,omitempty"`
	Payload   []byte     `json:"payload,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// AssignedPatient pairs a patient with the assignment that claimed it,
// returned by a successful accept.
type AssignedPatient struct {
	Patient    Patient
	Assignment Assignment
}
