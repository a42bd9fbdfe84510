package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/patient-referral/internal/fixtures"
	"github.com/carebridge/patient-referral/internal/notify"
	"github.com/carebridge/patient-referral/internal/referral"
	"github.com/carebridge/patient-referral/internal/session"
)

// inMemoryRepo implements referral.Repository for handler tests.
type inMemoryRepo struct {
	mu          sync.Mutex
	hospitals   map[uuid.UUID]*referral.Hospital
	ngos        map[uuid.UUID]*referral.NGO
	patients    map[uuid.UUID]*referral.Patient
	assignments map[uuid.UUID]*referral.Assignment
}

func newInMemoryRepo() *inMemoryRepo {
	return &inMemoryRepo{
		hospitals:   make(map[uuid.UUID]*referral.Hospital),
		ngos:        make(map[uuid.UUID]*referral.NGO),
		patients:    make(map[uuid.UUID]*referral.Patient),
		assignments: make(map[uuid.UUID]*referral.Assignment),
	}
}

func (r *inMemoryRepo) addHospital(name, email string) *referral.Hospital {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := &referral.Hospital{ID: uuid.New(), Name: name, Email: email, Verified: true}
	r.hospitals[h.ID] = h
	return h
}

func (r *inMemoryRepo) addNGO(name, email string) *referral.NGO {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := &referral.NGO{ID: uuid.New(), Name: name, Email: email, Verified: true, TotalCapacity: 100}
	r.ngos[n.ID] = n
	return n
}

func (r *inMemoryRepo) addPatient(hospitalID uuid.UUID, first, last string, status referral.PatientStatus) *referral.Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &referral.Patient{
		ID:          uuid.New(),
		HospitalID:  hospitalID,
		FirstName:   first,
		LastName:    last,
		DateOfBirth: time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:      status,
		CreatedAt:   time.Now(),
	}
	r.patients[p.ID] = p
	return p
}

func (r *inMemoryRepo) GetHospitalByID(_ context.Context, id uuid.UUID) (*referral.Hospital, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.hospitals[id]; ok {
		cp := *h
		return &cp, nil
	}
	return nil, referral.ErrHospitalNotFound
}

func (r *inMemoryRepo) GetHospitalByEmail(_ context.Context, email string) (*referral.Hospital, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.hospitals {
		if h.Email == email {
			cp := *h
			return &cp, nil
		}
	}
	return nil, referral.ErrHospitalNotFound
}

func (r *inMemoryRepo) GetNGOByID(_ context.Context, id uuid.UUID) (*referral.NGO, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.ngos[id]; ok {
		cp := *n
		return &cp, nil
	}
	return nil, referral.ErrNGONotFound
}

func (r *inMemoryRepo) GetNGOByEmail(_ context.Context, email string) (*referral.NGO, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.ngos {
		if n.Email == email {
			cp := *n
			return &cp, nil
		}
	}
	return nil, referral.ErrNGONotFound
}

func (r *inMemoryRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*referral.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.patients[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, referral.ErrPatientNotFound
}

func (r *inMemoryRepo) ListPatients(_ context.Context, f referral.PatientFilter) ([]referral.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []referral.Patient
	for _, p := range r.patients {
		if f.HospitalID != uuid.Nil && p.HospitalID != f.HospitalID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (r *inMemoryRepo) ListPatientsAcceptedByNGO(_ context.Context, ngoID uuid.UUID) ([]referral.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []referral.Patient
	for _, a := range r.assignments {
		if a.NGOID == ngoID && a.Status == referral.AssignmentAccepted {
			if p, ok := r.patients[a.PatientID]; ok {
				out = append(out, *p)
			}
		}
	}
	return out, nil
}

func (r *inMemoryRepo) CreatePatient(_ context.Context, p *referral.Patient) (*referral.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	cp.ID = uuid.New()
	cp.Status = referral.StatusPending
	cp.CreatedAt = time.Now()
	r.patients[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *inMemoryRepo) AcceptPatient(_ context.Context, patientID, ngoID uuid.UUID, notes *string) (*referral.AssignedPatient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[patientID]
	if !ok {
		return nil, referral.ErrPatientNotFound
	}
	if p.Status != referral.StatusPending {
		return nil, referral.ErrAlreadyAssigned
	}
	a := &referral.Assignment{
		ID:         uuid.New(),
		PatientID:  patientID,
		NGOID:      ngoID,
		Status:     referral.AssignmentAccepted,
		Notes:      notes,
		AssignedAt: time.Now(),
	}
	r.assignments[a.ID] = a
	p.Status = referral.StatusAssigned
	pc, ac := *p, *a
	return &referral.AssignedPatient{Patient: pc, Assignment: ac}, nil
}

func (r *inMemoryRepo) UpdatePatientStatus(_ context.Context, id uuid.UUID, from, to referral.PatientStatus) (*referral.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, referral.ErrPatientNotFound
	}
	if p.Status != from {
		return nil, referral.ErrAlreadyAssigned
	}
	p.Status = to
	cp := *p
	return &cp, nil
}

func (r *inMemoryRepo) UpdateNGOCapacity(_ context.Context, id uuid.UUID, currentCapacity, upcomingIntakes int) (*referral.NGO, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.ngos[id]
	if !ok {
		return nil, referral.ErrNGONotFound
	}
	n.CurrentCapacity = currentCapacity
	n.UpcomingIntakes = upcomingIntakes
	cp := *n
	return &cp, nil
}

func (r *inMemoryRepo) FindOrphanedAssignments(context.Context, time.Time) ([]referral.Assignment, error) {
	return nil, nil
}

func (r *inMemoryRepo) VoidAssignment(context.Context, uuid.UUID) error {
	return referral.ErrAssignmentNotFound
}

func (r *inMemoryRepo) InsertEvent(context.Context, referral.EventLog) error { return nil }

// passGuard runs the critical section immediately.
type passGuard struct{}

func (passGuard) WithPatientGuard(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// memSessions is an in-memory SessionStore.
type memSessions struct {
	mu     sync.Mutex
	repo   *inMemoryRepo
	tokens map[string]*session.Session
}

func newMemSessions(repo *inMemoryRepo) *memSessions {
	return &memSessions{repo: repo, tokens: make(map[string]*session.Session)}
}

func (m *memSessions) Login(ctx context.Context, email string, role referral.Role) (*session.Session, error) {
	var orgID uuid.UUID
	var orgName string
	switch role {
	case referral.RoleHospital:
		h, err := m.repo.GetHospitalByEmail(ctx, email)
		if err != nil {
			return nil, session.ErrUnknownAccount
		}
		orgID, orgName = h.ID, h.Name
	case referral.RoleNGO:
		n, err := m.repo.GetNGOByEmail(ctx, email)
		if err != nil {
			return nil, session.ErrUnknownAccount
		}
		orgID, orgName = n.ID, n.Name
	default:
		return nil, session.ErrUnknownAccount
	}

	sess := &session.Session{
		Token:     uuid.NewString(),
		OrgID:     orgID,
		Role:      role,
		OrgName:   orgName,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	m.mu.Lock()
	m.tokens[sess.Token] = sess
	m.mu.Unlock()
	return sess, nil
}

func (m *memSessions) Resolve(_ context.Context, token string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.tokens[token]; ok {
		return s, nil
	}
	return nil, session.ErrNoSession
}

func (m *memSessions) Logout(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

type testEnv struct {
	repo     *inMemoryRepo
	sessions *memSessions
	server   *httptest.Server
	registry *DashboardRegistry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := newInMemoryRepo()
	sessions := newMemSessions(repo)
	svc := referral.NewService(repo, passGuard{}, nil, zerolog.Nop())
	registry := NewDashboardRegistry(context.Background(), repo, notify.NewPollingSource(time.Hour), zerolog.Nop())
	t.Cleanup(registry.CloseAll)

	router := NewRouter(RouterConfig{
		Service:   svc,
		Repo:      repo,
		Sessions:  sessions,
		Dashboard: registry,
		Fixtures:  fixtures.NewStore("testdata"),
		Logger:    zerolog.Nop(),
		Env:       "test",
		Version:   "test",
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{repo: repo, sessions: sessions, server: server, registry: registry}
}

func (e *testEnv) login(t *testing.T, email string, role referral.Role) string {
	t.Helper()
	sess, err := e.sessions.Login(context.Background(), email, role)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return sess.Token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestAcceptPatientEndpoint(t *testing.T) {
	env := newTestEnv(t)

	hospital := env.repo.addHospital("City General Hospital", "referrals@citygeneral.example.org")
	ngo := env.repo.addNGO("Sahara Care Foundation", "care@sahara.example.org")
	patient := env.repo.addPatient(hospital.ID, "Rohan", "Verma", referral.StatusPending)

	token := env.login(t, ngo.Email, referral.RoleNGO)

	resp := env.do(t, http.MethodPost, "/patients/"+patient.ID.String()+"/accept", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("accept status = %d, want 200", resp.StatusCode)
	}

	out := decodeBody[AcceptPatientResponse](t, resp)
	if out.Patient.Status != "assigned" {
		t.Errorf("patient status = %s, want assigned", out.Patient.Status)
	}
	if out.Assignment.NGOID != ngo.ID || out.Assignment.PatientID != patient.ID {
		t.Errorf("assignment = %+v, want patient %s / ngo %s", out.Assignment, patient.ID, ngo.ID)
	}
	if out.Assignment.Status != "accepted" {
		t.Errorf("assignment status = %s, want accepted", out.Assignment.Status)
	}

	stored, _ := env.repo.GetPatientByID(context.Background(), patient.ID)
	if stored.Status != referral.StatusAssigned {
		t.Errorf("stored status = %s, want assigned", stored.Status)
	}
}

func TestAcceptPatientEndpointConflict(t *testing.T) {
	env := newTestEnv(t)

	hospital := env.repo.addHospital("City General Hospital", "referrals@citygeneral.example.org")
	ngoA := env.repo.addNGO("NGO A", "a@example.org")
	ngoB := env.repo.addNGO("NGO B", "b@example.org")
	patient := env.repo.addPatient(hospital.ID, "Diya", "Patel", referral.StatusPending)

	tokenA := env.login(t, ngoA.Email, referral.RoleNGO)
	tokenB := env.login(t, ngoB.Email, referral.RoleNGO)

	resp := env.do(t, http.MethodPost, "/patients/"+patient.ID.String()+"/accept", tokenA, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first accept status = %d, want 200", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/patients/"+patient.ID.String()+"/accept", tokenB, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second accept status = %d, want 409", resp.StatusCode)
	}
	out := decodeBody[ErrorResponse](t, resp)
	if out.Error != "already_assigned" {
		t.Errorf("error code = %s, want already_assigned", out.Error)
	}
}

func TestAcceptPatientEndpointAuth(t *testing.T) {
	env := newTestEnv(t)

	hospital := env.repo.addHospital("City General Hospital", "referrals@citygeneral.example.org")
	patient := env.repo.addPatient(hospital.ID, "Meera", "Iyer", referral.StatusPending)

	// No token at all.
	resp := env.do(t, http.MethodPost, "/patients/"+patient.ID.String()+"/accept", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous accept status = %d, want 401", resp.StatusCode)
	}

	// A hospital session cannot accept.
	token := env.login(t, hospital.Email, referral.RoleHospital)
	resp = env.do(t, http.MethodPost, "/patients/"+patient.ID.String()+"/accept", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("hospital accept status = %d, want 403", resp.StatusCode)
	}
}

func TestRegisterPatientEndpoint(t *testing.T) {
	env := newTestEnv(t)

	hospital := env.repo.addHospital("City General Hospital", "referrals@citygeneral.example.org")
	token := env.login(t, hospital.Email, referral.RoleHospital)

	resp := env.do(t, http.MethodPost, "/patients", token, RegisterPatientRequest{
		FirstName:        "Aarav",
		LastName:         "Sharma",
		DateOfBirth:      "1979-03-14",
		Gender:           "male",
		ContactNumber:    "+91-98200-11223",
		CurrentDiagnosis: "Post-operative rehabilitation",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	out := decodeBody[PatientResponse](t, resp)
	if out.Status != "pending" || out.HospitalID != hospital.ID {
		t.Errorf("created patient = %+v", out)
	}

	// Missing required fields come back per-field.
	resp = env.do(t, http.MethodPost, "/patients", token, RegisterPatientRequest{
		FirstName:   "Incomplete",
		DateOfBirth: "1990-01-01",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid register status = %d, want 422", resp.StatusCode)
	}
	errOut := decodeBody[ErrorResponse](t, resp)
	if _, ok := errOut.Fields["contact_number"]; !ok {
		t.Errorf("fields = %v, want contact_number", errOut.Fields)
	}
}

func TestListPatientsScoping(t *testing.T) {
	env := newTestEnv(t)

	h1 := env.repo.addHospital("City General Hospital", "h1@example.org")
	h2 := env.repo.addHospital("District Hospital", "h2@example.org")
	ngo := env.repo.addNGO("Sahara Care Foundation", "ngo@example.org")

	env.repo.addPatient(h1.ID, "Aarav", "Sharma", referral.StatusPending)
	env.repo.addPatient(h1.ID, "Diya", "Patel", referral.StatusAssigned)
	env.repo.addPatient(h2.ID, "Rohan", "Verma", referral.StatusPending)

	// Hospital h1 sees only its two patients.
	token := env.login(t, h1.Email, referral.RoleHospital)
	resp := env.do(t, http.MethodGet, "/patients", token, nil)
	if got := len(decodeBody[[]PatientResponse](t, resp)); got != 2 {
		t.Errorf("hospital list = %d patients, want 2", got)
	}

	// The NGO default view is the cross-hospital pending pool.
	token = env.login(t, ngo.Email, referral.RoleNGO)
	resp = env.do(t, http.MethodGet, "/patients", token, nil)
	patients := decodeBody[[]PatientResponse](t, resp)
	if len(patients) != 2 {
		t.Fatalf("ngo list = %d patients, want 2", len(patients))
	}
	for _, p := range patients {
		if p.Status != "pending" {
			t.Errorf("ngo pool contains status %s", p.Status)
		}
	}
}

func TestDashboardEndpoint(t *testing.T) {
	env := newTestEnv(t)

	hospital := env.repo.addHospital("City General Hospital", "h@example.org")
	ngo := env.repo.addNGO("Sahara Care Foundation", "n@example.org")
	env.repo.addPatient(hospital.ID, "Aarav", "Sharma", referral.StatusPending)
	env.repo.addPatient(hospital.ID, "Diya", "Patel", referral.StatusPending)

	token := env.login(t, ngo.Email, referral.RoleNGO)

	resp := env.do(t, http.MethodGet, "/dashboard", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status = %d, want 200", resp.StatusCode)
	}

	var snap struct {
		Phase     string            `json:"phase"`
		Available []PatientResponse `json:"available_patients"`
		Counters  struct {
			Total   int `json:"total"`
			Pending int `json:"pending"`
		} `json:"counters"`
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}

	if snap.Phase != "ready" {
		t.Errorf("phase = %s, want ready", snap.Phase)
	}
	if len(snap.Available) != 2 || snap.Counters.Pending != 2 {
		t.Errorf("available=%d pending=%d, want 2/2", len(snap.Available), snap.Counters.Pending)
	}

	// Search narrows in memory.
	resp = env.do(t, http.MethodGet, "/dashboard?q=arav", token, nil)
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode filtered snapshot: %v", err)
	}
	if len(snap.Available) != 1 || snap.Available[0].FirstName != "Aarav" {
		t.Errorf("filtered available = %+v, want just Aarav", snap.Available)
	}
}

func TestUpdateCapacityEndpoint(t *testing.T) {
	env := newTestEnv(t)

	ngo := env.repo.addNGO("Sahara Care Foundation", "n@example.org")
	token := env.login(t, ngo.Email, referral.RoleNGO)

	resp := env.do(t, http.MethodPost, "/ngos/capacity", token, UpdateCapacityRequest{CurrentCapacity: 85, UpcomingIntakes: 4})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("capacity status = %d, want 200", resp.StatusCode)
	}
	out := decodeBody[NGOResponse](t, resp)
	if out.CurrentCapacity != 85 || out.UpcomingIntakes != 4 {
		t.Errorf("capacity response = %+v", out)
	}

	resp = env.do(t, http.MethodPost, "/ngos/capacity", token, UpdateCapacityRequest{CurrentCapacity: 150})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid capacity status = %d, want 422", resp.StatusCode)
	}
}

func TestLogoutDropsDashboard(t *testing.T) {
	env := newTestEnv(t)

	ngo := env.repo.addNGO("Sahara Care Foundation", "n@example.org")
	token := env.login(t, ngo.Email, referral.RoleNGO)

	resp := env.do(t, http.MethodGet, "/dashboard", token, nil)
	resp.Body.Close()
	if env.registry.Peek(token) == nil {
		t.Fatal("expected a live view model after dashboard request")
	}

	resp = env.do(t, http.MethodPost, "/auth/logout", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", resp.StatusCode)
	}
	if env.registry.Peek(token) != nil {
		t.Error("view model should be dropped on logout")
	}

	// The token no longer resolves.
	resp = env.do(t, http.MethodGet, "/dashboard", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("post-logout dashboard status = %d, want 401", resp.StatusCode)
	}
}

func TestDataEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/data?type=patients&status=pending", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("data status = %d, want 200", resp.StatusCode)
	}
	patients := decodeBody[[]fixtures.Patient](t, resp)
	if len(patients) != 1 || patients[0].ID != "p003" {
		t.Errorf("pending fixtures = %+v, want just p003", patients)
	}

	resp = env.do(t, http.MethodGet, "/data?type=patients&hospitalId=h001", "", nil)
	if got := len(decodeBody[[]fixtures.Patient](t, resp)); got != 2 {
		t.Errorf("h001 fixtures = %d, want 2", got)
	}

	resp = env.do(t, http.MethodGet, "/data?type=ngos&id=n001", "", nil)
	ngo := decodeBody[fixtures.NGO](t, resp)
	if ngo.Name != "Sahara Care Foundation" {
		t.Errorf("ngo fixture = %+v", ngo)
	}

	resp = env.do(t, http.MethodGet, "/data?type=unknown", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown type status = %d, want 400", resp.StatusCode)
	}
}
