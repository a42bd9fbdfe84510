package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const patientColumns = `id, hospital_id, first_name, last_name, date_of_birth, gender,
	contact_number, address, medical_history, current_diagnosis, treatment_plan,
	status, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.HospitalID,
		&p.FirstName,
		&p.LastName,
		&p.DateOfBirth,
		&p.Gender,
		&p.ContactNumber,
		&p.Address,
		&p.MedicalHistory,
		&p.CurrentDiagnosis,
		&p.TreatmentPlan,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanHospital(row pgx.Row) (*Hospital, error) {
	var h Hospital

	err := row.Scan(
		&h.ID,
		&h.Name,
		&h.Address,
		&h.ContactNumber,
		&h.Email,
		&h.LicenseNumber,
		&h.Verified,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHospitalNotFound
		}
		return nil, err
	}

	return &h, nil
}

func scanNGO(row pgx.Row) (*NGO, error) {
	var n NGO

	err := row.Scan(
		&n.ID,
		&n.Name,
		&n.Address,
		&n.ContactNumber,
		&n.Email,
		&n.LicenseNumber,
		&n.Verified,
		&n.TotalCapacity,
		&n.CurrentCapacity,
		&n.UpcomingIntakes,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNGONotFound
		}
		return nil, err
	}

	return &n, nil
}

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	var notes *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.NGOID,
		&a.Status,
		&notes,
		&a.AssignedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssignmentNotFound
		}
		return nil, err
	}

	a.Notes = notes
	return &a, nil
}

// Interface methods

func (r *PgRepository) GetHospitalByID(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, address, contact_number, email, license_number, verified, created_at, updated_at
		FROM hospitals
		WHERE id = $1
	`, id)
	return scanHospital(row)
}

func (r *PgRepository) GetHospitalByEmail(ctx context.Context, email string) (*Hospital, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, address, contact_number, email, license_number, verified, created_at, updated_at
		FROM hospitals
		WHERE lower(email) = lower($1)
	`, email)
	return scanHospital(row)
}

func (r *PgRepository) GetNGOByID(ctx context.Context, id uuid.UUID) (*NGO, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, address, contact_number, email, license_number, verified,
		       total_capacity, current_capacity, upcoming_intakes, created_at, updated_at
		FROM ngos
		WHERE id = $1
	`, id)
	return scanNGO(row)
}

func (r *PgRepository) GetNGOByEmail(ctx context.Context, email string) (*NGO, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, address, contact_number, email, license_number, verified,
		       total_capacity, current_capacity, upcoming_intakes, created_at, updated_at
		FROM ngos
		WHERE lower(email) = lower($1)
	`, email)
	return scanNGO(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) ListPatients(ctx context.Context, f PatientFilter) ([]Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE 1=1`
	args := []any{}

	if f.HospitalID != uuid.Nil {
		args = append(args, f.HospitalID)
		query += fmt.Sprintf(" AND hospital_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPatients(rows)
}

func (r *PgRepository) ListPatientsAcceptedByNGO(ctx context.Context, ngoID uuid.UUID) ([]Patient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.hospital_id, p.first_name, p.last_name, p.date_of_birth, p.gender,
		       p.contact_number, p.address, p.medical_history, p.current_diagnosis, p.treatment_plan,
		       p.status, p.created_at, p.updated_at
		FROM patients p
		JOIN assignments a ON a.patient_id = p.id
		WHERE a.ngo_id = $1 AND a.status = 'accepted'
		ORDER BY a.assigned_at DESC
	`, ngoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectPatients(rows)
}

func collectPatients(rows pgx.Rows) ([]Patient, error) {
	var result []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreatePatient(ctx context.Context, p *Patient) (*Patient, error) {
	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO patients (id, hospital_id, first_name, last_name, date_of_birth, gender,
			contact_number, address, medical_history, current_diagnosis, treatment_plan,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending', now(), now())
		RETURNING `+patientColumns+`
	`, id, p.HospitalID, p.FirstName, p.LastName, p.DateOfBirth, p.Gender,
		p.ContactNumber, p.Address, p.MedicalHistory, p.CurrentDiagnosis, p.TreatmentPlan)

	return scanPatient(row)
}

// AcceptPatient runs both accept writes inside one transaction so a lost
// race can never leave an accepted assignment behind. The patient update
// carries the status = 'pending' predicate; zero rows matched means another
// NGO already claimed the patient and the whole transaction is rolled back.
func (r *PgRepository) AcceptPatient(ctx context.Context, patientID, ngoID uuid.UUID, notes *string) (*AssignedPatient, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin accept tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO assignments (id, patient_id, ngo_id, status, notes, assigned_at, updated_at)
		VALUES ($1, $2, $3, 'accepted', $4, now(), now())
		RETURNING id, patient_id, ngo_id, status, notes, assigned_at, updated_at
	`, uuid.New(), patientID, ngoID, notes)

	assignment, err := scanAssignment(row)
	if err != nil {
		// The partial unique index on accepted assignments rejects the
		// insert when another NGO's accept already committed.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAlreadyAssigned
		}
		return nil, fmt.Errorf("insert assignment: %w", err)
	}

	row = tx.QueryRow(ctx, `
		UPDATE patients
		SET status = 'assigned',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+patientColumns+`
	`, patientID)

	patient, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			// Either the patient does not exist or it is past pending.
			// Distinguish so the caller can surface the race outcome.
			if _, getErr := r.GetPatientByID(ctx, patientID); getErr == nil {
				return nil, ErrAlreadyAssigned
			}
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("update patient status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit accept tx: %w", err)
	}

	return &AssignedPatient{Patient: *patient, Assignment: *assignment}, nil
}

func (r *PgRepository) UpdatePatientStatus(ctx context.Context, id uuid.UUID, from, to PatientStatus) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE patients
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+patientColumns+`
	`, id, to, from)

	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			if _, getErr := r.GetPatientByID(ctx, id); getErr == nil {
				return nil, ErrAlreadyAssigned
			}
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return p, nil
}

func (r *PgRepository) UpdateNGOCapacity(ctx context.Context, id uuid.UUID, currentCapacity, upcomingIntakes int) (*NGO, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE ngos
		SET current_capacity = $2,
		    upcoming_intakes = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, name, address, contact_number, email, license_number, verified,
		          total_capacity, current_capacity, upcoming_intakes, created_at, updated_at
	`, id, currentCapacity, upcomingIntakes)

	return scanNGO(row)
}

func (r *PgRepository) FindOrphanedAssignments(ctx context.Context, olderThan time.Time) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.patient_id, a.ngo_id, a.status, a.notes, a.assigned_at, a.updated_at
		FROM assignments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.status = 'accepted'
		  AND p.status = 'pending'
		  AND a.assigned_at < $1
	`, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) VoidAssignment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE assignments
		SET status = 'voided',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'accepted'
	`, id)
	if err != nil {
		return fmt.Errorf("void assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}

	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, patient_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.PatientID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
