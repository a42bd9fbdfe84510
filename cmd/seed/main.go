package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/patient-referral/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn, db.PoolSettings{})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	hospitals, err := seedHospitals(context.Background(), pool, 12)
	if err != nil {
		log.Fatalf("seed hospitals: %v", err)
	}
	if err := seedNGOs(context.Background(), pool, 20); err != nil {
		log.Fatalf("seed ngos: %v", err)
	}
	if err := seedPatients(context.Background(), pool, hospitals, 3000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func orgEmail(name string) string {
	slug := strings.ToLower(strings.NewReplacer(" ", ".", "'", "", ",", "").Replace(name))
	return fmt.Sprintf("contact@%s.example.org", slug)
}

func seedHospitals(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d hospitals", count)

	ids := make([]uuid.UUID, 0, count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.City() + " General Hospital"

		_, err := tx.Exec(ctx, `
			INSERT INTO hospitals (id, name, address, contact_number, email, license_number, verified, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		`, id, name, gofakeit.Address().Address, gofakeit.Phone(), orgEmail(name),
			fmt.Sprintf("HOSP-%05d", gofakeit.Number(10000, 99999)), gofakeit.Bool())
		if err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("hospitals seeded")
	return ids, nil
}

func seedNGOs(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d ngos", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.LastName() + " Care Foundation"

		_, err := tx.Exec(ctx, `
			INSERT INTO ngos (id, name, address, contact_number, email, license_number, verified,
				total_capacity, current_capacity, upcoming_intakes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		`, id, name, gofakeit.Address().Address, gofakeit.Phone(), orgEmail(name),
			fmt.Sprintf("NGO-%05d", gofakeit.Number(10000, 99999)), gofakeit.Bool(),
			gofakeit.Number(20, 200), gofakeit.Number(0, 100), gofakeit.Number(0, 15))
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("ngos seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, hospitals []uuid.UUID, count int) error {
	log.Printf("seeding %d patients", count)

	diagnoses := []string{
		"Post-operative rehabilitation",
		"Stroke recovery",
		"Spinal injury rehabilitation",
		"Orthopedic rehabilitation",
		"Cardiac rehabilitation",
		"Amputation recovery",
		"Traumatic brain injury recovery",
	}
	plans := []string{
		"Physical therapy, regular medication",
		"Occupational therapy",
		"Physiotherapy, wheelchair training",
		"Pain management, mobility exercises",
		"Speech therapy, cognitive exercises",
	}
	genders := []string{"male", "female", "other"}

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			hospitalID := hospitals[gofakeit.Number(0, len(hospitals)-1)]
			dob := gofakeit.DateRange(
				time.Now().AddDate(-90, 0, 0),
				time.Now().AddDate(-18, 0, 0),
			)

			// Most seeded patients stay pending so the NGO pool has depth.
			status := "pending"
			if gofakeit.Number(0, 9) < 2 {
				status = "assigned"
			}

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, hospital_id, first_name, last_name, date_of_birth, gender,
					contact_number, address, medical_history, current_diagnosis, treatment_plan,
					status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
			`, id, hospitalID, gofakeit.FirstName(), gofakeit.LastName(), dob,
				genders[gofakeit.Number(0, len(genders)-1)], gofakeit.Phone(),
				gofakeit.Address().Address, gofakeit.Sentence(8),
				diagnoses[gofakeit.Number(0, len(diagnoses)-1)],
				plans[gofakeit.Number(0, len(plans)-1)], status)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}
