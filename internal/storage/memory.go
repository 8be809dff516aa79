package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facelinker/internal/common"
	"github.com/your-org/facelinker/internal/models"
)

type memIdentity struct {
	ident     models.Identity
	seq       int64
	embedding []float32
}

// MemoryStore is a thread-safe metadata store with the same semantics as
// PostgresStore, including cascading deletes. Used in dev mode and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	seq        int64
	users      map[uuid.UUID]models.User
	events     map[uuid.UUID]models.Event
	identities map[uuid.UUID]*memIdentity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[uuid.UUID]models.User),
		events:     make(map[uuid.UUID]models.Event),
		identities: make(map[uuid.UUID]*memIdentity),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[u.ID]; ok {
		return fmt.Errorf("create user %s: duplicate id: %w", u.ID, common.ErrInvalidInput)
	}
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return fmt.Errorf("create user: email %q taken: %w", u.Email, common.ErrInvalidInput)
		}
	}
	u.CreatedAt = time.Now()
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("get user %s: %w", id, common.ErrNotFound)
	}
	return &u, nil
}

func (m *MemoryStore) CreateEvent(_ context.Context, ev *models.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[ev.OwnerID]; !ok {
		return fmt.Errorf("create event: owner %s: %w", ev.OwnerID, common.ErrNotFound)
	}
	if _, ok := m.events[ev.ID]; ok {
		return fmt.Errorf("create event %s: duplicate id: %w", ev.ID, common.ErrInvalidInput)
	}
	ev.CreatedAt = time.Now()
	m.events[ev.ID] = *ev
	return nil
}

func (m *MemoryStore) GetEvent(_ context.Context, id uuid.UUID) (*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[id]
	if !ok {
		return nil, fmt.Errorf("get event %s: %w", id, common.ErrNotFound)
	}
	return &ev, nil
}

func (m *MemoryStore) ListEvents(_ context.Context, ownerID uuid.UUID) ([]models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := []models.Event{}
	for _, ev := range m.events {
		if ev.OwnerID == ownerID {
			events = append(events, ev)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	return events, nil
}

func (m *MemoryStore) DeleteEvent(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[id]; !ok {
		return fmt.Errorf("delete event %s: %w", id, common.ErrNotFound)
	}
	delete(m.events, id)
	for identID, mi := range m.identities {
		if mi.ident.EventID == id {
			delete(m.identities, identID)
		}
	}
	return nil
}

func (m *MemoryStore) InsertIdentity(_ context.Context, ident *models.Identity, embedding []float32) error {
	if err := ident.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[ident.EventID]; !ok {
		return fmt.Errorf("insert identity: event %s: %w", ident.EventID, common.ErrNotFound)
	}
	if _, ok := m.identities[ident.ID]; ok {
		return fmt.Errorf("insert identity %s: duplicate id: %w", ident.ID, common.ErrInvalidInput)
	}

	now := time.Now()
	ident.CreatedAt, ident.UpdatedAt = now, now
	m.seq++

	stored := *ident
	stored.Occurrences = append(make([]models.Occurrence, 0, len(ident.Occurrences)), ident.Occurrences...)
	m.identities[ident.ID] = &memIdentity{
		ident:     stored,
		seq:       m.seq,
		embedding: append([]float32(nil), embedding...),
	}
	return nil
}

func (m *MemoryStore) AppendOccurrence(_ context.Context, identityID uuid.UUID, occ models.Occurrence) error {
	if err := occ.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	mi, ok := m.identities[identityID]
	if !ok {
		return fmt.Errorf("append occurrence to %s: %w", identityID, common.ErrNotFound)
	}
	mi.ident.Occurrences = append(mi.ident.Occurrences, occ)
	mi.ident.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) RenameIdentity(_ context.Context, id uuid.UUID, name string) error {
	if err := models.ValidDisplayName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	mi, ok := m.identities[id]
	if !ok {
		return fmt.Errorf("rename identity %s: %w", id, common.ErrNotFound)
	}
	mi.ident.DisplayName = name
	mi.ident.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) DeleteIdentity(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[id]; !ok {
		return fmt.Errorf("delete identity %s: %w", id, common.ErrNotFound)
	}
	delete(m.identities, id)
	return nil
}

// copyIdentity returns a snapshot callers may mutate freely.
func copyIdentity(mi *memIdentity) models.Identity {
	ident := mi.ident
	ident.Occurrences = append([]models.Occurrence(nil), mi.ident.Occurrences...)
	return ident
}

func (m *MemoryStore) GetIdentity(_ context.Context, id uuid.UUID) (*models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mi, ok := m.identities[id]
	if !ok {
		return nil, fmt.Errorf("get identity %s: %w", id, common.ErrNotFound)
	}
	ident := copyIdentity(mi)
	return &ident, nil
}

// eventIdentities must be called with the lock held.
func (m *MemoryStore) eventIdentities(eventID uuid.UUID) []*memIdentity {
	var out []*memIdentity
	for _, mi := range m.identities {
		if mi.ident.EventID == eventID {
			out = append(out, mi)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (m *MemoryStore) ListIdentities(_ context.Context, eventID uuid.UUID) ([]models.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idents := []models.Identity{}
	for _, mi := range m.eventIdentities(eventID) {
		idents = append(idents, copyIdentity(mi))
	}
	return idents, nil
}

func (m *MemoryStore) ListExemplars(_ context.Context, eventID uuid.UUID) ([]models.Exemplar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exemplars := []models.Exemplar{}
	for _, mi := range m.eventIdentities(eventID) {
		ex := models.Exemplar{IdentityID: mi.ident.ID, Key: mi.ident.ExemplarKey}
		if len(mi.embedding) > 0 {
			ex.Face.Embedding = append([]float32(nil), mi.embedding...)
		}
		exemplars = append(exemplars, ex)
	}
	return exemplars, nil
}

func (m *MemoryStore) ListImageOccurrences(_ context.Context, eventID uuid.UUID, imageID string) ([]models.ImageOccurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.ImageOccurrence{}
	for _, mi := range m.eventIdentities(eventID) {
		for _, occ := range mi.ident.Occurrences {
			if occ.ImageID == imageID {
				out = append(out, models.ImageOccurrence{
					IdentityID:  mi.ident.ID,
					DisplayName: mi.ident.DisplayName,
					Box:         occ.Box,
				})
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) Stats(context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var occurrences int64
	for _, mi := range m.identities {
		occurrences += int64(len(mi.ident.Occurrences))
	}
	return map[string]int64{
		"users":       int64(len(m.users)),
		"events":      int64(len(m.events)),
		"identities":  int64(len(m.identities)),
		"occurrences": occurrences,
	}, nil
}
