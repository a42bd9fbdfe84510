package referral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/patient-referral/internal/notify"
	redisclient "github.com/carebridge/patient-referral/internal/redis"
)

const (
	EventPatientRegistered    = "PATIENT_REGISTERED"
	EventPatientAccepted      = "PATIENT_ACCEPTED"
	EventPatientStatusChanged = "PATIENT_STATUS_CHANGED"
	EventAssignmentVoided     = "ASSIGNMENT_VOIDED"
	EventCapacityChanged      = "NGO_CAPACITY_CHANGED"
)

var (
	ErrUnauthenticated        = errors.New("operation requires a valid session")
	ErrWrongRole              = errors.New("session role cannot perform this operation")
	ErrNotOwningHospital      = errors.New("patient belongs to a different hospital")
	ErrInvalidTransition      = errors.New("invalid patient status transition")
	ErrAcceptInFlight         = errors.New("patient accept is currently in flight, please retry")
	ErrAssignmentCreateFailed = errors.New("could not create assignment")
)

// Actor is the identity attached to every mutation, resolved from the
// caller's session by the API layer and passed in explicitly.
type Actor struct {
	OrgID uuid.UUID
	Role  Role
}

func (a Actor) valid() bool {
	return a.OrgID != uuid.Nil && (a.Role == RoleHospital || a.Role == RoleNGO)
}

// ValidationError carries per-field messages for form input, surfaced
// inline by the caller rather than propagated.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, f+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

type Service struct {
	repo      Repository
	guard     redisclient.Guard
	publisher notify.Publisher
	log       zerolog.Logger

	// how long an accepted-but-unresolved assignment may sit before the
	// reconciler treats it as orphaned
	orphanGrace time.Duration
}

func NewService(repo Repository, guard redisclient.Guard, publisher notify.Publisher, log zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		guard:       guard,
		publisher:   publisher,
		log:         log,
		orphanGrace: time.Minute,
	}
}

// AcceptPatient moves a pending patient into the accepting NGO's care,
// exactly once. The repository runs both writes in one transaction; the
// redis guard only fails fast on duplicate in-flight attempts for the
// same patient.
func (s *Service) AcceptPatient(ctx context.Context, actor Actor, patientID uuid.UUID, notes *string) (*AssignedPatient, error) {
	if !actor.valid() {
		return nil, ErrUnauthenticated
	}
	if actor.Role != RoleNGO {
		return nil, ErrWrongRole
	}

	if _, err := s.repo.GetNGOByID(ctx, actor.OrgID); err != nil {
		if errors.Is(err, ErrNGONotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("load ngo: %w", err)
	}

	// Fail early on obvious non-candidates; the transactional CAS below
	// remains the authority under concurrency.
	patient, err := s.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if patient.Status != StatusPending {
		return nil, ErrAlreadyAssigned
	}

	var accepted *AssignedPatient

	err = s.guard.WithPatientGuard(ctx, patientID, func(guardCtx context.Context) error {
		result, err := s.repo.AcceptPatient(guardCtx, patientID, actor.OrgID, notes)
		if err != nil {
			return err
		}
		accepted = result
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrAcceptInFlight):
			return nil, ErrAcceptInFlight
		case errors.Is(err, ErrAlreadyAssigned), errors.Is(err, ErrPatientNotFound):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrAssignmentCreateFailed, err)
		}
	}

	s.logEvent(ctx, patientID, EventPatientAccepted, map[string]any{
		"ngo_id":        actor.OrgID.String(),
		"assignment_id": accepted.Assignment.ID.String(),
	})
	s.publishChange(ctx, notify.TablePatients)
	s.publishChange(ctx, notify.TableAssignments)

	return accepted, nil
}

// RegisterPatientInput is the form payload from the hospital registration
// page. All fields except treatment plan are required.
type RegisterPatientInput struct {
	FirstName        string
	LastName         string
	DateOfBirth      time.Time
	Gender           string
	ContactNumber    string
	Address          string
	MedicalHistory   string
	CurrentDiagnosis string
	TreatmentPlan    string
}

func (in RegisterPatientInput) validate() *ValidationError {
	fields := map[string]string{}

	if strings.TrimSpace(in.FirstName) == "" {
		fields["first_name"] = "required"
	}
	if strings.TrimSpace(in.LastName) == "" {
		fields["last_name"] = "required"
	}
	if in.DateOfBirth.IsZero() || in.DateOfBirth.After(time.Now()) {
		fields["date_of_birth"] = "must be a past date"
	}
	if strings.TrimSpace(in.ContactNumber) == "" {
		fields["contact_number"] = "required"
	}
	if strings.TrimSpace(in.CurrentDiagnosis) == "" {
		fields["current_diagnosis"] = "required"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// RegisterPatient creates a pending patient owned by the acting hospital.
func (s *Service) RegisterPatient(ctx context.Context, actor Actor, in RegisterPatientInput) (*Patient, error) {
	if !actor.valid() {
		return nil, ErrUnauthenticated
	}
	if actor.Role != RoleHospital {
		return nil, ErrWrongRole
	}
	if verr := in.validate(); verr != nil {
		return nil, verr
	}

	p := &Patient{
		HospitalID:       actor.OrgID,
		FirstName:        in.FirstName,
		LastName:         in.LastName,
		DateOfBirth:      in.DateOfBirth,
		Gender:           in.Gender,
		ContactNumber:    in.ContactNumber,
		Address:          in.Address,
		MedicalHistory:   in.MedicalHistory,
		CurrentDiagnosis: in.CurrentDiagnosis,
		TreatmentPlan:    in.TreatmentPlan,
	}

	created, err := s.repo.CreatePatient(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}

	s.logEvent(ctx, created.ID, EventPatientRegistered, map[string]any{
		"hospital_id": actor.OrgID.String(),
	})
	s.publishChange(ctx, notify.TablePatients)

	return created, nil
}

// TransitionPatient moves an assigned patient to discharged or transferred.
// Only the owning hospital may do this, and only from assigned.
func (s *Service) TransitionPatient(ctx context.Context, actor Actor, patientID uuid.UUID, to PatientStatus) (*Patient, error) {
	if !actor.valid() {
		return nil, ErrUnauthenticated
	}
	if actor.Role != RoleHospital {
		return nil, ErrWrongRole
	}
	if to != StatusDischarged && to != StatusTransferred {
		return nil, ErrInvalidTransition
	}

	patient, err := s.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if patient.HospitalID != actor.OrgID {
		return nil, ErrNotOwningHospital
	}

	updated, err := s.repo.UpdatePatientStatus(ctx, patientID, StatusAssigned, to)
	if err != nil {
		if errors.Is(err, ErrAlreadyAssigned) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("transition patient: %w", err)
	}

	s.logEvent(ctx, patientID, EventPatientStatusChanged, map[string]any{
		"from": string(StatusAssigned),
		"to":   string(to),
	})
	s.publishChange(ctx, notify.TablePatients)

	return updated, nil
}

// UpdateCapacity records the acting NGO's new occupancy figures.
func (s *Service) UpdateCapacity(ctx context.Context, actor Actor, currentCapacity, upcomingIntakes int) (*NGO, error) {
	if !actor.valid() {
		return nil, ErrUnauthenticated
	}
	if actor.Role != RoleNGO {
		return nil, ErrWrongRole
	}
	if currentCapacity < 0 || currentCapacity > 100 {
		return nil, &ValidationError{Fields: map[string]string{"current_capacity": "must be between 0 and 100"}}
	}
	if upcomingIntakes < 0 {
		return nil, &ValidationError{Fields: map[string]string{"upcoming_intakes": "must not be negative"}}
	}

	updated, err := s.repo.UpdateNGOCapacity(ctx, actor.OrgID, currentCapacity, upcomingIntakes)
	if err != nil {
		return nil, fmt.Errorf("update ngo capacity: %w", err)
	}

	s.logEvent(ctx, uuid.Nil, EventCapacityChanged, map[string]any{
		"ngo_id":           actor.OrgID.String(),
		"current_capacity": currentCapacity,
		"upcoming_intakes": upcomingIntakes,
	})
	s.publishChange(ctx, notify.TableNGOs)

	return updated, nil
}

// ReconcileOrphanedAssignments voids accepted assignments whose patient is
// still pending. With the transactional accept path these should not
// occur; the sweep covers rows written by older two-step clients.
func (s *Service) ReconcileOrphanedAssignments(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.orphanGrace)

	orphans, err := s.repo.FindOrphanedAssignments(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find orphaned assignments: %w", err)
	}

	voided := 0
	for _, a := range orphans {
		if err := s.repo.VoidAssignment(ctx, a.ID); err != nil {
			if errors.Is(err, ErrAssignmentNotFound) {
				continue
			}
			s.log.Error().Err(err).Stringer("assignment_id", a.ID).Msg("failed to void orphaned assignment")
			continue
		}
		voided++
		s.logEvent(ctx, a.PatientID, EventAssignmentVoided, map[string]any{
			"assignment_id": a.ID.String(),
			"ngo_id":        a.NGOID.String(),
		})
	}

	if voided > 0 {
		s.publishChange(ctx, notify.TableAssignments)
	}

	return voided, nil
}

func (s *Service) logEvent(ctx context.Context, patientID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	ev := EventLog{
		EventType: eventType,
		Payload:   data,
		CreatedAt: time.Now(),
	}
	if patientID != uuid.Nil {
		pid := patientID
		ev.PatientID = &pid
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to insert event log")
	}
}

// publishChange is best effort: a degraded notification channel must not
// fail the mutation, subscribers fall back to manual refresh or polling.
func (s *Service) publishChange(ctx context.Context, table string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, table); err != nil {
		s.log.Warn().Err(err).Str("table", table).Msg("change notification publish failed")
	}
}
