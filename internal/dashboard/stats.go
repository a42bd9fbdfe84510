package dashboard

import (
	"sort"
	"strings"

	"github.com/carebridge/patient-referral/internal/referral"
)

// Counters are derived from the in-memory lists on every reload. They are
// never written independently, so they cannot drift from the rows.
type Counters struct {
	Total    int `json:"total"`
	Assigned int `json:"assigned"`
	Pending  int `json:"pending"`
}

func deriveCounters(available, scoped []referral.Patient) Counters {
	c := Counters{
		Total:   len(available) + len(scoped),
		Pending: len(available),
	}
	for _, p := range scoped {
		if p.Status == referral.StatusAssigned {
			c.Assigned++
		}
	}
	return c
}

// SeriesPoint is one chart datum.
type SeriesPoint struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// StatusDistribution counts patients per lifecycle status, ordered by the
// canonical status sequence so charts render stably.
func StatusDistribution(patients []referral.Patient) []SeriesPoint {
	order := []referral.PatientStatus{
		referral.StatusPending,
		referral.StatusAssigned,
		referral.StatusDischarged,
		referral.StatusTransferred,
	}

	counts := make(map[referral.PatientStatus]int, len(order))
	for _, p := range patients {
		counts[p.Status]++
	}

	series := make([]SeriesPoint, 0, len(order))
	for _, st := range order {
		series = append(series, SeriesPoint{Label: string(st), Value: counts[st]})
	}
	return series
}

// RegistrationsByDay buckets patients by creation date (YYYY-MM-DD),
// sorted ascending. Dates are taken in UTC so the buckets do not depend
// on the server's local timezone.
func RegistrationsByDay(patients []referral.Patient) []SeriesPoint {
	counts := make(map[string]int)
	for _, p := range patients {
		counts[p.CreatedAt.UTC().Format("2006-01-02")]++
	}

	days := make([]string, 0, len(counts))
	for d := range counts {
		days = append(days, d)
	}
	sort.Strings(days)

	series := make([]SeriesPoint, 0, len(days))
	for _, d := range days {
		series = append(series, SeriesPoint{Label: d, Value: counts[d]})
	}
	return series
}

// FilterByName is the client-side search: case-insensitive substring match
// over "first_name last_name". It never touches the store.
func FilterByName(patients []referral.Patient, query string) []referral.Patient {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return patients
	}

	var out []referral.Patient
	for _, p := range patients {
		full := strings.ToLower(p.FirstName + " " + p.LastName)
		if strings.Contains(full, q) {
			out = append(out, p)
		}
	}
	return out
}
