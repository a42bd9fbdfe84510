// Package session issues and resolves opaque bearer tokens backed by Redis.
// Sessions carry only the organization identity and role; every query and
// mutation is scoped by them. There is no package-level current session:
// callers receive a Session value and pass it on explicitly.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/carebridge/patient-referral/internal/referral"
)

var (
	ErrNoSession      = errors.New("no valid session")
	ErrUnknownAccount = errors.New("no account for email and role")
	ErrRoleNotAllowed = errors.New("session role not allowed for this operation")
)

type Session struct {
	Token     string        `json:"-"`
	OrgID     uuid.UUID     `json:"org_id"`
	Role      referral.Role `json:"role"`
	OrgName   string        `json:"org_name"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Directory resolves login credentials to an organization. Implemented by
// the referral repository.
type Directory interface {
	GetHospitalByEmail(ctx context.Context, email string) (*referral.Hospital, error)
	GetNGOByEmail(ctx context.Context, email string) (*referral.NGO, error)
}

type Manager struct {
	client *redis.Client
	dir    Directory
	ttl    time.Duration
}

func NewManager(client *redis.Client, dir Directory, ttl time.Duration) *Manager {
	return &Manager{client: client, dir: dir, ttl: ttl}
}

func sessionKey(token string) string {
	return "session:" + token
}

// Login resolves the org by email and role and stores a fresh session
// under an opaque token with the configured TTL.
func (m *Manager) Login(ctx context.Context, email string, role referral.Role) (*Session, error) {
	var orgID uuid.UUID
	var orgName string

	switch role {
	case referral.RoleHospital:
		h, err := m.dir.GetHospitalByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, referral.ErrHospitalNotFound) {
				return nil, ErrUnknownAccount
			}
			return nil, fmt.Errorf("resolve hospital: %w", err)
		}
		orgID, orgName = h.ID, h.Name
	case referral.RoleNGO:
		n, err := m.dir.GetNGOByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, referral.ErrNGONotFound) {
				return nil, ErrUnknownAccount
			}
			return nil, fmt.Errorf("resolve ngo: %w", err)
		}
		orgID, orgName = n.ID, n.Name
	default:
		return nil, ErrUnknownAccount
	}

	sess := &Session{
		Token:     uuid.NewString(),
		OrgID:     orgID,
		Role:      role,
		OrgName:   orgName,
		ExpiresAt: time.Now().Add(m.ttl),
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	if err := m.client.Set(ctx, sessionKey(sess.Token), data, m.ttl).Err(); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	return sess, nil
}

// Resolve returns the session for a token, or ErrNoSession when the token
// is unknown or expired.
func (m *Manager) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	data, err := m.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	sess.Token = token

	return &sess, nil
}

// Logout destroys the session. Unknown tokens are not an error.
func (m *Manager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
