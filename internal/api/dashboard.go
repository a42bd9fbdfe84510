package api

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/carebridge/patient-referral/internal/dashboard"
	"github.com/carebridge/patient-referral/internal/notify"
	"github.com/carebridge/patient-referral/internal/session"
)

// DashboardRegistry owns one live view model per session. The view model
// (and its change subscription) outlives individual requests and is
// released when the session logs out or the server shuts down.
type DashboardRegistry struct {
	reader dashboard.Reader
	source notify.Source
	// baseCtx bounds subscription lifetimes to the server, not to the
	// request that happened to create the view.
	baseCtx context.Context
	log     zerolog.Logger

	mu    sync.Mutex
	views map[string]*dashboard.ViewModel
}

func NewDashboardRegistry(baseCtx context.Context, reader dashboard.Reader, source notify.Source, log zerolog.Logger) *DashboardRegistry {
	return &DashboardRegistry{
		reader:  reader,
		source:  source,
		baseCtx: baseCtx,
		log:     log,
		views:   make(map[string]*dashboard.ViewModel),
	}
}

// Get returns the session's view model, creating and starting it on first
// use.
func (reg *DashboardRegistry) Get(sess *session.Session) (*dashboard.ViewModel, error) {
	reg.mu.Lock()
	if vm, ok := reg.views[sess.Token]; ok {
		reg.mu.Unlock()
		return vm, nil
	}
	vm := dashboard.NewViewModel(reg.reader, reg.source, sess.Role, sess.OrgID, reg.log)
	reg.views[sess.Token] = vm
	reg.mu.Unlock()

	if err := vm.Start(reg.baseCtx); err != nil {
		reg.Drop(sess.Token)
		return nil, err
	}
	return vm, nil
}

// Peek returns the view model without creating one.
func (reg *DashboardRegistry) Peek(token string) *dashboard.ViewModel {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.views[token]
}

// Drop closes and forgets the session's view model. Safe when none exists.
func (reg *DashboardRegistry) Drop(token string) {
	reg.mu.Lock()
	vm := reg.views[token]
	delete(reg.views, token)
	reg.mu.Unlock()

	if vm != nil {
		vm.Close()
	}
}

// CloseAll releases every subscription, called on shutdown.
func (reg *DashboardRegistry) CloseAll() {
	reg.mu.Lock()
	views := make([]*dashboard.ViewModel, 0, len(reg.views))
	for _, vm := range reg.views {
		views = append(views, vm)
	}
	reg.views = make(map[string]*dashboard.ViewModel)
	reg.mu.Unlock()

	for _, vm := range views {
		vm.Close()
	}
}
