package referral

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound    = errors.New("patient not found")
	ErrHospitalNotFound   = errors.New("hospital not found")
	ErrNGONotFound        = errors.New("ngo not found")
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrAlreadyAssigned is the expected loser outcome of the accept race:
	// the conditional patient update matched zero rows.
	ErrAlreadyAssigned = errors.New("patient is no longer pending")
)

// PatientFilter narrows bulk patient queries. Zero-value fields are ignored.
type PatientFilter struct {
	HospitalID uuid.UUID
	Status     PatientStatus
}

// Repository contains all DB interactions needed by the service and the
// dashboard view models.
type Repository interface {
	GetHospitalByID(ctx context.Context, id uuid.UUID) (*Hospital, error)
	GetHospitalByEmail(ctx context.Context, email string) (*Hospital, error)
	GetNGOByID(ctx context.Context, id uuid.UUID) (*NGO, error)
	GetNGOByEmail(ctx context.Context, email string) (*NGO, error)

	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	ListPatients(ctx context.Context, f PatientFilter) ([]Patient, error)
	ListPatientsAcceptedByNGO(ctx context.Context, ngoID uuid.UUID) ([]Patient, error)

	CreatePatient(ctx context.Context, p *Patient) (*Patient, error)

	// AcceptPatient inserts the accepted assignment and flips the patient
	// from pending to assigned in one transaction. A zero-row conditional
	// update rolls everything back and returns ErrAlreadyAssigned.
	AcceptPatient(ctx context.Context, patientID, ngoID uuid.UUID, notes *string) (*AssignedPatient, error)

	// UpdatePatientStatus is a compare-and-swap on the status column.
	// Returns ErrAlreadyAssigned when the patient is not in `from` anymore.
	UpdatePatientStatus(ctx context.Context, id uuid.UUID, from, to PatientStatus) (*Patient, error)

	UpdateNGOCapacity(ctx context.Context, id uuid.UUID, currentCapacity, upcomingIntakes int) (*NGO, error)

	// Reconciler support
	FindOrphanedAssignments(ctx context.Context, olderThan time.Time) ([]Assignment, error)
	VoidAssignment(ctx context.Context, id uuid.UUID) error

	InsertEvent(ctx context.Context, ev EventLog) error
}
