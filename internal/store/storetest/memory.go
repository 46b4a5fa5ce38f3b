// Package storetest provides an in-memory Store for tests that exercise the
// reconciliation engine, bridge and handlers without a database.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"parking-occupancy-backend/internal/apperr"
	"parking-occupancy-backend/internal/model"
	"parking-occupancy-backend/internal/store"

	"gorm.io/gorm"
)

// Memory implements store.Store with maps and slices. A zero value is not
// usable; construct with NewMemory.
type Memory struct {
	mu        sync.Mutex
	nextID    int64
	nextRecID int64
	cells     map[int64]model.ParkingCell
	records   []model.OccupancyRecord

	feed          chan store.CellChange
	feedSupported bool
	feedOn        bool
	buffering     bool
	pending       []store.CellChange

	// UpsertErr, when set, is returned by every UpsertCell call.
	UpsertErr error
}

// Option configures a Memory store.
type Option func(*Memory)

// WithChangeFeed makes ChangeFeed succeed, as a postgres-backed store would.
func WithChangeFeed() Option {
	return func(m *Memory) { m.feedSupported = true }
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		cells: make(map[int64]model.ParkingCell),
		feed:  make(chan store.CellChange, 64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) CellByStaticID(_ context.Context, idStatic int64) (*model.ParkingCell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cell, ok := m.cells[idStatic]
	if !ok {
		return nil, fmt.Errorf("cell %d: %w", idStatic, apperr.ErrNotFound)
	}
	out := cell
	return &out, nil
}

func (m *Memory) AllCells(_ context.Context) ([]model.ParkingCell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ParkingCell, 0, len(m.cells))
	for _, c := range m.cells {
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) RecentlyModifiedCells(_ context.Context, limit int) ([]model.ParkingCell, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ParkingCell, 0, len(m.cells))
	for _, c := range m.cells {
		out = append(out, c)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].ModifiedAt.After(out[i].ModifiedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpsertCell(_ context.Context, idStatic int64, state model.CellState, res *model.Reservation, now time.Time) (int64, error) {
	if m.UpsertErr != nil {
		return 0, m.UpsertErr
	}
	if state != model.StateReserved {
		res = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cell, exists := m.cells[idStatic]
	if !exists {
		if state == model.StateReserved && res == nil {
			return 0, apperr.Validation("reservation", "required when state is reserved")
		}
		m.nextID++
		cell = model.ParkingCell{
			ID:          m.nextID,
			IDStatic:    idStatic,
			State:       state,
			Reservation: res,
			CreatedAt:   now,
			CreatedBy:   "system",
			ModifiedAt:  now,
			ModifiedBy:  "system",
		}
		m.cells[idStatic] = cell
		m.emit(store.CellChange{Op: store.OpCreated, Cell: cell, At: now})
		return cell.ID, nil
	}

	if state == model.StateReserved && res == nil {
		if cell.State != model.StateReserved || cell.Reservation == nil {
			return 0, apperr.Validation("reservation", "required when state is reserved")
		}
		res = cell.Reservation
	}

	cell.State = state
	cell.Reservation = res
	cell.ModifiedAt = now
	cell.ModifiedBy = "system"
	m.cells[idStatic] = cell
	m.emit(store.CellChange{Op: store.OpUpdated, Cell: cell, At: now})
	return cell.ID, nil
}

func (m *Memory) CreateOpenRecord(_ context.Context, cellIDStatic int64, start time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.CellID == cellIDStatic && r.End == nil {
			return 0, fmt.Errorf("open occupancy record already exists for cell %d: %w", cellIDStatic, apperr.ErrConflict)
		}
	}
	m.nextRecID++
	m.records = append(m.records, model.OccupancyRecord{
		ID:     m.nextRecID,
		CellID: cellIDStatic,
		Start:  start,
		Status: model.StateOccupied,
	})
	return m.nextRecID, nil
}

func (m *Memory) CloseMostRecentOpenRecord(_ context.Context, cellIDStatic int64, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	best := -1
	for i, r := range m.records {
		if r.CellID != cellIDStatic || r.End != nil {
			continue
		}
		if best == -1 || r.Start.After(m.records[best].Start) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	e := end
	m.records[best].End = &e
	return nil
}

func (m *Memory) AllOccupancyRecords(_ context.Context) ([]model.OccupancyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.OccupancyRecord, len(m.records))
	copy(out, m.records)
	return out, nil
}

// SeedRecords installs history records directly, for deriver tests.
func (m *Memory) SeedRecords(recs ...model.OccupancyRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, recs...)
}

// Transaction has no rollback; it only mirrors the feed contract by holding
// change events back until fn succeeds.
func (m *Memory) Transaction(_ context.Context, fn func(store.Store) error) error {
	m.mu.Lock()
	m.buffering = true
	m.mu.Unlock()

	err := fn(m)

	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.pending
	m.pending = nil
	m.buffering = false
	if err != nil {
		return err
	}
	for _, change := range pending {
		m.emit(change)
	}
	return nil
}

func (m *Memory) ChangeFeed() (<-chan store.CellChange, error) {
	if !m.feedSupported {
		return nil, store.ErrChangeFeedUnsupported
	}
	m.mu.Lock()
	m.feedOn = true
	m.mu.Unlock()
	return m.feed, nil
}

func (m *Memory) DB() *gorm.DB {
	return nil
}

func (m *Memory) emit(change store.CellChange) {
	if m.buffering {
		m.pending = append(m.pending, change)
		return
	}
	if !m.feedOn {
		return
	}
	select {
	case m.feed <- change:
	default:
	}
}
