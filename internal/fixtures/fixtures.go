// Package fixtures backs the legacy read-only /data endpoint with static
// JSON files, used by demo and offline-data mode. Files are re-read per
// request; the datasets are small and edits show up without a restart.
package fixtures

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Patient struct {
	ID               string `json:"id"`
	HospitalID       string `json:"hospital_id"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	DateOfBirth      string `json:"date_of_birth"`
	Gender           string `json:"gender"`
	ContactNumber    string `json:"contact_number"`
	Address          string `json:"address"`
	MedicalHistory   string `json:"medical_history"`
	CurrentDiagnosis string `json:"current_diagnosis"`
	TreatmentPlan    string `json:"treatment_plan"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
}

type Hospital struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Address       string `json:"address"`
	ContactNumber string `json:"contact_number"`
	Email         string `json:"email"`
	LicenseNumber string `json:"license_number"`
	Verified      bool   `json:"verified"`
}

type NGO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Address         string `json:"address"`
	ContactNumber   string `json:"contact_number"`
	Email           string `json:"email"`
	LicenseNumber   string `json:"license_number"`
	Verified        bool   `json:"verified"`
	TotalCapacity   int    `json:"total_capacity"`
	CurrentCapacity int    `json:"current_capacity"`
	UpcomingIntakes int    `json:"upcoming_intakes"`
}

type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func readJSONFile[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", filepath.Base(path), err)
	}

	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", filepath.Base(path), err)
	}
	return out, nil
}

// Patients returns the patient fixtures, optionally narrowed by status
// and/or hospital id.
func (s *Store) Patients(status, hospitalID string) ([]Patient, error) {
	all, err := readJSONFile[Patient](filepath.Join(s.dir, "patients.json"))
	if err != nil {
		return nil, err
	}

	filtered := make([]Patient, 0, len(all))
	for _, p := range all {
		if hospitalID != "" && p.HospitalID != hospitalID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		filtered = append(filtered, p)
	}
	return filtered, nil
}

func (s *Store) Hospitals() ([]Hospital, error) {
	return readJSONFile[Hospital](filepath.Join(s.dir, "hospitals.json"))
}

func (s *Store) HospitalByID(id string) (*Hospital, error) {
	all, err := s.Hospitals()
	if err != nil {
		return nil, err
	}
	for _, h := range all {
		if h.ID == id {
			return &h, nil
		}
	}
	return nil, nil
}

func (s *Store) NGOs() ([]NGO, error) {
	return readJSONFile[NGO](filepath.Join(s.dir, "ngos.json"))
}

func (s *Store) NGOByID(id string) (*NGO, error) {
	all, err := s.NGOs()
	if err != nil {
		return nil, err
	}
	for _, n := range all {
		if n.ID == id {
			return &n, nil
		}
	}
	return nil, nil
}
