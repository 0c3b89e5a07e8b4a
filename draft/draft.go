// Package draft owns the single active inventory counting session.
//
// The session lives in the store's draft partition under a fixed
// singleton key, independent of its identifier, and survives reloads and
// offline periods. Sessions started without connectivity carry a locally
// generated identifier that the UI later promotes to a server-issued
// one.
package draft

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fabricedemange/coopaz-offline/codec"
	"github.com/fabricedemange/coopaz-offline/model"
	"github.com/fabricedemange/coopaz-offline/store"
)

// LocalIDPrefix marks identifiers generated on the device while offline.
const LocalIDPrefix = "local-"

// slotKey is the singleton slot; there is at most one draft at a time.
const slotKey = "current"

// ErrDraftActive is returned by Create while a draft already exists.
var ErrDraftActive = errors.New("a draft session is already active")

// IsLocalID reports whether id was generated locally and still needs
// promotion to a server-issued identifier.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Manager persists the draft session.
type Manager struct {
	store *store.Store
	codec codec.Codec
	now   func() time.Time
}

// NewManager returns a Manager on top of s. A nil c defaults to
// codec.Default.
func NewManager(s *store.Store, c codec.Codec) *Manager {
	if c == nil {
		c = codec.Default
	}
	return &Manager{store: s, codec: c, now: time.Now}
}

// Create starts a new counting session with a locally generated
// identifier and an empty line list, and returns the identifier. It
// fails with ErrDraftActive when a session already exists.
func (m *Manager) Create(ctx context.Context) (string, error) {
	id := LocalIDPrefix + uuid.NewString()
	session := model.DraftSession{
		ID:        id,
		Lines:     []model.DraftLine{},
		CreatedAt: m.now().UTC(),
	}
	err := m.store.Update(ctx, func(tx *store.Txn) error {
		var existing model.DraftSession
		err := tx.Get(store.PartitionDraft, slotKey, &existing)
		if err == nil {
			return ErrDraftActive
		}
		if !errors.Is(err, store.ErrKeyNotFound) {
			return err
		}
		return tx.Put(store.PartitionDraft, slotKey, session)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the active session, or nil when none exists.
func (m *Manager) Get(ctx context.Context) (*model.DraftSession, error) {
	var session model.DraftSession
	err := m.store.Get(ctx, store.PartitionDraft, slotKey, &session)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, nil
	}
	return &session, nil
}

// SaveLines atomically replaces the session's line list with a plain
// snapshot of lines, preserving its identifier. It is a silent no-op
// when no session exists; the caller is expected to have created one
// first.
func (m *Manager) SaveLines(ctx context.Context, lines []model.DraftLine) error {
	plain, err := codec.Clone(m.codec, lines)
	if err != nil {
		return err
	}
	if plain == nil {
		plain = []model.DraftLine{}
	}
	return m.store.Update(ctx, func(tx *store.Txn) error {
		var session model.DraftSession
		err := tx.Get(store.PartitionDraft, slotKey, &session)
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		session.Lines = plain
		return tx.Put(store.PartitionDraft, slotKey, session)
	})
}

// SetID rewrites the session identifier in place, preserving its lines.
// Used when a local session is promoted to a server-issued identifier.
// No-op when no session exists.
func (m *Manager) SetID(ctx context.Context, id string) error {
	return m.store.Update(ctx, func(tx *store.Txn) error {
		var session model.DraftSession
		err := tx.Get(store.PartitionDraft, slotKey, &session)
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		session.ID = id
		return tx.Put(store.PartitionDraft, slotKey, session)
	})
}

// Clear deletes the session regardless of its state.
func (m *Manager) Clear(ctx context.Context) error {
	return m.store.Delete(ctx, store.PartitionDraft, slotKey)
}
