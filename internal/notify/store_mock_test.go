package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lalithlochan/taskbell/internal/db"
)

// memStore is an in-memory Store that counts writes.
type memStore struct {
	mu          sync.Mutex
	rows        map[uuid.UUID]*db.Notification
	seq         int
	createErr   error
	deliveryErr error

	creates     int
	transitions int
	deliveries  int
	bulkUpdates int

	// raceTo, when set, makes the next TransitionStatus lose to a
	// concurrent writer that already moved the row to this status.
	raceTo db.Status
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[uuid.UUID]*db.Notification)}
}

func (m *memStore) CreateNotification(_ context.Context, n *db.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.creates++
	m.seq++
	now := time.Unix(int64(m.seq), 0).UTC()
	n.CreatedAt, n.UpdatedAt = now, now
	cp := *n
	m.rows[n.ID] = &cp
	return nil
}

func (m *memStore) GetNotification(_ context.Context, id uuid.UUID) (*db.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *memStore) matching(r db.Recipient, status *db.Status) []*db.Notification {
	var out []*db.Notification
	for _, n := range m.rows {
		if n.Recipient() != r {
			continue
		}
		if status != nil && n.Status != *status {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memStore) ListByRecipient(_ context.Context, r db.Recipient, f db.ListFilter) ([]*db.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.matching(r, f.Status)
	if f.Offset >= len(all) {
		return nil, nil
	}
	end := min(f.Offset+f.Limit, len(all))
	return all[f.Offset:end], nil
}

func (m *memStore) CountByRecipient(_ context.Context, r db.Recipient, status *db.Status) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.matching(r, status)), nil
}

func (m *memStore) TransitionStatus(_ context.Context, id uuid.UUID, from, to db.Status) (*db.Notification, bool, error) {
	if !from.CanTransitionTo(to) {
		return nil, false, db.ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.rows[id]
	if !ok {
		return nil, false, db.ErrNotFound
	}
	if m.raceTo != "" {
		n.Status = m.raceTo
		m.raceTo = ""
	}
	if n.Status != from {
		cp := *n
		return &cp, false, nil
	}
	m.transitions++
	n.Status = to
	n.UpdatedAt = n.UpdatedAt.Add(time.Second)
	cp := *n
	return &cp, true, nil
}

func (m *memStore) MarkAllRead(_ context.Context, r db.Recipient) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkUpdates++
	var count int64
	for _, n := range m.rows {
		if n.Recipient() == r && n.Status == db.StatusUnread {
			n.Status = db.StatusRead
			count++
		}
	}
	return count, nil
}

func (m *memStore) RecordDelivery(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deliveryErr != nil {
		return m.deliveryErr
	}
	n, ok := m.rows[id]
	if !ok {
		return errors.New("missing row")
	}
	m.deliveries++
	n.DeliveredAt = &at
	return nil
}

func (m *memStore) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates + m.transitions + m.deliveries + m.bulkUpdates
}
