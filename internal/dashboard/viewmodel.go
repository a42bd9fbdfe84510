// Package dashboard holds the per-client view model: a role-scoped
// projection of patient state kept current through change notifications.
// Reloads always replace the whole projection; nothing is patched
// incrementally, so the lists can never diverge from the store for longer
// than one reload.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/patient-referral/internal/notify"
	"github.com/carebridge/patient-referral/internal/referral"
)

// Phase is the view loading lifecycle. Background reloads go through
// Refreshing, never back to Loading, so a live table is never replaced by
// a skeleton.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseLoading    Phase = "loading"
	PhaseReady      Phase = "ready"
	PhaseRefreshing Phase = "refreshing"
	PhaseError      Phase = "error"
)

var ErrClosed = errors.New("view model is closed")

// Reader is the query subset of the repository needed by a view.
type Reader interface {
	ListPatients(ctx context.Context, f referral.PatientFilter) ([]referral.Patient, error)
	ListPatientsAcceptedByNGO(ctx context.Context, ngoID uuid.UUID) ([]referral.Patient, error)
}

// Snapshot is an immutable copy of the view state handed to renderers.
type Snapshot struct {
	Role               referral.Role      `json:"role"`
	Phase              Phase              `json:"phase"`
	IsLoading          bool               `json:"is_loading"`
	IsRefreshing       bool               `json:"is_refreshing"`
	AvailablePatients  []referral.Patient `json:"available_patients"`
	ScopedPatients     []referral.Patient `json:"scoped_patients"`
	Counters           Counters           `json:"counters"`
	StatusSeries       []SeriesPoint      `json:"status_series"`
	RegistrationSeries []SeriesPoint      `json:"registration_series"`
	Columns            []Column           `json:"columns"`
	LastError          string             `json:"last_error,omitempty"`
}

type ViewModel struct {
	reader Reader
	source notify.Source
	role   referral.Role
	orgID  uuid.UUID
	log    zerolog.Logger

	mu        sync.Mutex
	phase     Phase
	available []referral.Patient
	scoped    []referral.Patient
	lastErr   error
	closed    bool

	sub       notify.Subscription
	closeOnce sync.Once

	// coalesces notification bursts into one in-flight reload
	reloadPending chan struct{}
}

func NewViewModel(reader Reader, source notify.Source, role referral.Role, orgID uuid.UUID, log zerolog.Logger) *ViewModel {
	return &ViewModel{
		reader:        reader,
		source:        source,
		role:          role,
		orgID:         orgID,
		log:           log,
		phase:         PhaseIdle,
		reloadPending: make(chan struct{}, 1),
	}
}

// Start performs the initial bulk load and subscribes to change
// notifications. The subscription is released exactly once, by Close, on
// every exit path of the owner.
func (vm *ViewModel) Start(ctx context.Context) error {
	vm.mu.Lock()
	if vm.closed {
		vm.mu.Unlock()
		return ErrClosed
	}
	vm.phase = PhaseLoading
	vm.mu.Unlock()

	if err := vm.reload(ctx, true); err != nil {
		return err
	}

	tables := []string{notify.TablePatients}
	if vm.role == referral.RoleNGO {
		tables = append(tables, notify.TableAssignments)
	}

	sub, err := vm.source.Subscribe(ctx, tables, func(table string) {
		vm.onChange(ctx, table)
	})
	if err != nil {
		// Non-fatal: the view still works through manual refresh.
		vm.log.Warn().Err(err).Msg("change subscription failed, falling back to manual refresh")
		return nil
	}

	vm.mu.Lock()
	if vm.closed {
		vm.mu.Unlock()
		sub.Unsubscribe()
		return ErrClosed
	}
	vm.sub = sub
	vm.mu.Unlock()

	return nil
}

// onChange treats every notification as "something changed, re-query".
// Bursts collapse into a single reload through the buffered channel.
func (vm *ViewModel) onChange(ctx context.Context, table string) {
	select {
	case vm.reloadPending <- struct{}{}:
	default:
		return // a reload is already queued
	}

	go func() {
		defer func() { <-vm.reloadPending }()
		if err := vm.reload(ctx, false); err != nil && !errors.Is(err, ErrClosed) {
			vm.log.Warn().Err(err).Str("table", table).Msg("notification-driven reload failed")
		}
	}()
}

// Refresh is the manual control: it re-runs the bulk query outside the
// notification path, so it works even when the channel is degraded.
func (vm *ViewModel) Refresh(ctx context.Context) error {
	return vm.reload(ctx, false)
}

func (vm *ViewModel) reload(ctx context.Context, initial bool) error {
	vm.mu.Lock()
	if vm.closed {
		vm.mu.Unlock()
		return ErrClosed
	}
	if initial {
		vm.phase = PhaseLoading
	} else if vm.phase == PhaseReady || vm.phase == PhaseError {
		vm.phase = PhaseRefreshing
	}
	vm.mu.Unlock()

	available, scoped, err := vm.query(ctx)

	vm.mu.Lock()
	defer vm.mu.Unlock()

	// The owner may have gone away while the query was in flight; a late
	// result must not resurrect state.
	if vm.closed {
		return ErrClosed
	}

	if err != nil {
		// Keep last-known-good lists; only the phase and error change.
		vm.phase = PhaseError
		vm.lastErr = err
		return err
	}

	vm.available = available
	vm.scoped = scoped
	vm.phase = PhaseReady
	vm.lastErr = nil
	return nil
}

func (vm *ViewModel) query(ctx context.Context) (available, scoped []referral.Patient, err error) {
	switch vm.role {
	case referral.RoleHospital:
		all, err := vm.reader.ListPatients(ctx, referral.PatientFilter{HospitalID: vm.orgID})
		if err != nil {
			return nil, nil, fmt.Errorf("list hospital patients: %w", err)
		}
		for _, p := range all {
			if p.Status == referral.StatusPending {
				available = append(available, p)
			} else {
				scoped = append(scoped, p)
			}
		}
		return available, scoped, nil

	case referral.RoleNGO:
		available, err = vm.reader.ListPatients(ctx, referral.PatientFilter{Status: referral.StatusPending})
		if err != nil {
			return nil, nil, fmt.Errorf("list pending patients: %w", err)
		}
		scoped, err = vm.reader.ListPatientsAcceptedByNGO(ctx, vm.orgID)
		if err != nil {
			return nil, nil, fmt.Errorf("list accepted patients: %w", err)
		}
		return available, scoped, nil

	default:
		return nil, nil, fmt.Errorf("unknown dashboard role %q", vm.role)
	}
}

// AcceptLocally applies the optimistic update after a successful accept:
// the patient leaves the available list immediately. The next full reload
// is authoritative and overwrites silently if it disagrees.
func (vm *ViewModel) AcceptLocally(patientID uuid.UUID) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	for i, p := range vm.available {
		if p.ID == patientID {
			vm.available = append(vm.available[:i], vm.available[i+1:]...)
			return
		}
	}
}

// Search filters the scoped list by name, in memory only.
func (vm *ViewModel) Search(query string) []referral.Patient {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return FilterByName(vm.scoped, query)
}

// SearchAvailable filters the available pool by name, in memory only.
func (vm *ViewModel) SearchAvailable(query string) []referral.Patient {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return FilterByName(vm.available, query)
}

func (vm *ViewModel) Snapshot() Snapshot {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	available := make([]referral.Patient, len(vm.available))
	copy(available, vm.available)
	scoped := make([]referral.Patient, len(vm.scoped))
	copy(scoped, vm.scoped)

	all := make([]referral.Patient, 0, len(available)+len(scoped))
	all = append(all, available...)
	all = append(all, scoped...)

	columns := hospitalColumns
	if vm.role == referral.RoleNGO {
		columns = ngoColumns
	}

	snap := Snapshot{
		Role:               vm.role,
		Phase:              vm.phase,
		IsLoading:          vm.phase == PhaseLoading,
		IsRefreshing:       vm.phase == PhaseRefreshing,
		AvailablePatients:  available,
		ScopedPatients:     scoped,
		Counters:           deriveCounters(available, scoped),
		StatusSeries:       StatusDistribution(all),
		RegistrationSeries: RegistrationsByDay(all),
		Columns:            columns,
	}
	if vm.lastErr != nil {
		snap.LastError = vm.lastErr.Error()
	}
	return snap
}

// Close releases the subscription exactly once. Safe to call multiple
// times and from any exit path.
func (vm *ViewModel) Close() {
	vm.closeOnce.Do(func() {
		vm.mu.Lock()
		vm.closed = true
		sub := vm.sub
		vm.sub = nil
		vm.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
	})
}
