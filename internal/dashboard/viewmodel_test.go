package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/patient-referral/internal/notify"
	"github.com/carebridge/patient-referral/internal/referral"
)

// fakeStore is a minimal patient store shared by "clients" in these tests.
type fakeStore struct {
	mu       sync.Mutex
	patients map[uuid.UUID]referral.Patient
	accepted map[uuid.UUID]uuid.UUID // patient -> ngo
	failGet  error
	gate     chan struct{} // when set, queries block until it closes
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		patients: make(map[uuid.UUID]referral.Patient),
		accepted: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *fakeStore) add(hospitalID uuid.UUID, first, last string, status referral.PatientStatus) referral.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := referral.Patient{
		ID:         uuid.New(),
		HospitalID: hospitalID,
		FirstName:  first,
		LastName:   last,
		Status:     status,
		CreatedAt:  time.Now(),
	}
	s.patients[p.ID] = p
	return p
}

// assign flips a patient to assigned on behalf of an external actor.
func (s *fakeStore) assign(patientID, ngoID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.patients[patientID]
	p.Status = referral.StatusAssigned
	s.patients[patientID] = p
	s.accepted[patientID] = ngoID
}

func (s *fakeStore) waitGate() {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (s *fakeStore) ListPatients(_ context.Context, f referral.PatientFilter) ([]referral.Patient, error) {
	s.waitGate()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	var out []referral.Patient
	for _, p := range s.patients {
		if f.HospitalID != uuid.Nil && p.HospitalID != f.HospitalID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) ListPatientsAcceptedByNGO(_ context.Context, ngoID uuid.UUID) ([]referral.Patient, error) {
	s.waitGate()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGet != nil {
		return nil, s.failGet
	}
	var out []referral.Patient
	for pid, nid := range s.accepted {
		if nid == ngoID {
			out = append(out, s.patients[pid])
		}
	}
	return out, nil
}

// fakeSource delivers notifications synchronously through Fire.
type fakeSource struct {
	mu           sync.Mutex
	handlers     []notify.Handler
	unsubscribes int
}

func (s *fakeSource) Subscribe(_ context.Context, _ []string, h notify.Handler) (notify.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
	return &fakeSubscription{source: s}, nil
}

func (s *fakeSource) Fire(table string) {
	s.mu.Lock()
	handlers := append([]notify.Handler(nil), s.handlers...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(table)
	}
}

type fakeSubscription struct {
	source *fakeSource
	once   sync.Once
}

func (f *fakeSubscription) Unsubscribe() {
	f.once.Do(func() {
		f.source.mu.Lock()
		f.source.unsubscribes++
		f.source.mu.Unlock()
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestHospitalAndNGOScoping(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{}

	h1 := uuid.New()
	h2 := uuid.New()
	ngoID := uuid.New()

	p := store.add(h1, "Diya", "Patel", referral.StatusPending)
	store.add(h2, "Rohan", "Verma", referral.StatusPending)

	hospitalVM := NewViewModel(store, source, referral.RoleHospital, h1, zerolog.Nop())
	defer hospitalVM.Close()
	if err := hospitalVM.Start(context.Background()); err != nil {
		t.Fatalf("hospital Start: %v", err)
	}

	ngoVM := NewViewModel(store, source, referral.RoleNGO, ngoID, zerolog.Nop())
	defer ngoVM.Close()
	if err := ngoVM.Start(context.Background()); err != nil {
		t.Fatalf("ngo Start: %v", err)
	}

	// A pending patient of hospital h1 shows up in h1's view and in the
	// shared NGO pool.
	hs := hospitalVM.Snapshot()
	if len(hs.AvailablePatients) != 1 || hs.AvailablePatients[0].ID != p.ID {
		t.Errorf("hospital available = %v, want [%s]", hs.AvailablePatients, p.ID)
	}

	ns := ngoVM.Snapshot()
	if len(ns.AvailablePatients) != 2 {
		t.Errorf("ngo available = %d patients, want 2", len(ns.AvailablePatients))
	}

	if hs.Phase != PhaseReady || hs.IsLoading || hs.IsRefreshing {
		t.Errorf("phase = %s loading=%v refreshing=%v, want ready", hs.Phase, hs.IsLoading, hs.IsRefreshing)
	}
}

func TestNotificationDrivenRefresh(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{}

	hospitalID := uuid.New()
	ngoID := uuid.New()
	otherNGO := uuid.New()

	p1 := store.add(hospitalID, "Aarav", "Sharma", referral.StatusPending)
	p2 := store.add(hospitalID, "Diya", "Patel", referral.StatusPending)

	vm := NewViewModel(store, source, referral.RoleNGO, ngoID, zerolog.Nop())
	defer vm.Close()
	if err := vm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := len(vm.Snapshot().AvailablePatients); got != 2 {
		t.Fatalf("available = %d, want 2", got)
	}

	// An external actor assigns P1; the subscribed view converges without
	// any manual refresh.
	store.assign(p1.ID, otherNGO)
	source.Fire(notify.TablePatients)

	waitFor(t, time.Second, func() bool {
		snap := vm.Snapshot()
		return len(snap.AvailablePatients) == 1 && snap.AvailablePatients[0].ID == p2.ID
	})
}

func TestManualRefreshBypassesSubscription(t *testing.T) {
	store := newFakeStore()

	hospitalID := uuid.New()
	ngoID := uuid.New()
	p := store.add(hospitalID, "Meera", "Iyer", referral.StatusPending)

	// No notification source wiring at all: Subscribe fails, the view
	// still serves data through manual refresh.
	vm := NewViewModel(store, failingSource{}, referral.RoleNGO, ngoID, zerolog.Nop())
	defer vm.Close()
	if err := vm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	store.assign(p.ID, uuid.New())

	if err := vm.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := len(vm.Snapshot().AvailablePatients); got != 0 {
		t.Errorf("available after refresh = %d, want 0", got)
	}
}

type failingSource struct{}

func (failingSource) Subscribe(context.Context, []string, notify.Handler) (notify.Subscription, error) {
	return nil, errors.New("channel down")
}

func TestErrorKeepsLastKnownGood(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{}

	hospitalID := uuid.New()
	store.add(hospitalID, "Aarav", "Sharma", referral.StatusPending)

	vm := NewViewModel(store, source, referral.RoleHospital, hospitalID, zerolog.Nop())
	defer vm.Close()
	if err := vm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	store.mu.Lock()
	store.failGet = errors.New("store unavailable")
	store.mu.Unlock()

	if err := vm.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh should fail")
	}

	snap := vm.Snapshot()
	if snap.Phase != PhaseError {
		t.Errorf("phase = %s, want error", snap.Phase)
	}
	if snap.LastError == "" {
		t.Error("expected last error to be surfaced")
	}
	// The table keeps showing the last good rows, not an empty list.
	if len(snap.AvailablePatients) != 1 {
		t.Errorf("available = %d, want last-known-good 1", len(snap.AvailablePatients))
	}
}

func TestBackgroundReloadNeverFlipsLoading(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{}

	hospitalID := uuid.New()
	store.add(hospitalID, "Diya", "Patel", referral.StatusPending)

	vm := NewViewModel(store, source, referral.RoleHospital, hospitalID, zerolog.Nop())
	defer vm.Close()
	if err := vm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Block the next query so the refreshing phase is observable.
	gate := make(chan struct{})
	store.mu.Lock()
	store.gate = gate
	store.mu.Unlock()

	source.Fire(notify.TablePatients)

	waitFor(t, time.Second, func() bool {
		return vm.Snapshot().Phase == PhaseRefreshing
	})

	snap := vm.Snapshot()
	if snap.IsLoading {
		t.Error("background reload flipped IsLoading")
	}
	if !snap.IsRefreshing {
		t.Error("background reload should set IsRefreshing")
	}

	store.mu.Lock()
	store.gate = nil
	store.mu.Unlock()
	close(gate)

	waitFor(t, time.Second, func() bool {
		return vm.Snapshot().Phase == PhaseReady
	})
}

func TestAcceptLocallyOptimisticRemoval(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{}

	hospitalID := uuid.New()
	ngoID := uuid.New()
	p1 := store.add(hospitalID, "Aarav", "Sharma", referral.StatusPending)
	p2 := store.add(hospitalID, "Diya", "Patel", referral.StatusPending)

	vm := NewViewModel(store, source, referral.RoleNGO, ngoID, zerolog.Nop())
	defer vm.Close()
	if err := vm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	vm.AcceptLocally(p1.ID)

	snap := vm.Snapshot()
	if len(snap.AvailablePatients) != 1 || snap.AvailablePatients[0].ID != p2.ID {
		t.Errorf("available after optimistic removal = %v, want [%s]", snap.AvailablePatients, p2.ID)
	}

	// The store still has the patient pending (the accept lost, say);
	// the next reload is authoritative and silently restores it.
	if err := vm.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := len(vm.Snapshot().AvailablePatients); got != 2 {
		t.Errorf("available after authoritative reload = %d, want 2", got)
	}
}

func TestCloseReleasesSubscriptionOnce(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{}

	vm := NewViewModel(store, source, referral.RoleNGO, uuid.New(), zerolog.Nop())
	if err := vm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	vm.Close()
	vm.Close()

	source.mu.Lock()
	defer source.mu.Unlock()
	if source.unsubscribes != 1 {
		t.Errorf("unsubscribes = %d, want 1", source.unsubscribes)
	}
}

func TestLateResultDiscardedAfterClose(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{}

	hospitalID := uuid.New()
	store.add(hospitalID, "Rohan", "Verma", referral.StatusPending)

	vm := NewViewModel(store, source, referral.RoleHospital, hospitalID, zerolog.Nop())
	if err := vm.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	gate := make(chan struct{})
	store.mu.Lock()
	store.gate = gate
	store.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- vm.Refresh(context.Background()) }()

	waitFor(t, time.Second, func() bool {
		return vm.Snapshot().Phase == PhaseRefreshing
	})

	vm.Close()
	close(gate)

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("late refresh err = %v, want ErrClosed", err)
	}
}
