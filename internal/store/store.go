package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"parking-occupancy-backend/internal/apperr"
	"parking-occupancy-backend/internal/metrics"
	"parking-occupancy-backend/internal/model"
)

// systemActor is recorded as the author of every mutation made through the
// reconciliation paths.
const systemActor = "system"

// feedBuffer bounds the change feed channel. Events beyond it are dropped
// rather than stalling writers.
const feedBuffer = 256

// Store defines all persistence operations used by the occupancy core.
type Store interface {
	// CellByStaticID returns the cell with the given business key, or an
	// error wrapping apperr.ErrNotFound.
	CellByStaticID(ctx context.Context, idStatic int64) (*model.ParkingCell, error)
	// AllCells returns every cell. Ordering is unspecified; callers that
	// need idStatic order sort for themselves.
	AllCells(ctx context.Context) ([]model.ParkingCell, error)
	// UpsertCell is the only mutation path into the cell store. It creates
	// the cell on first reference to an unknown idStatic and updates state,
	// modifiedAt and modifiedBy otherwise. The reservation is stored only
	// when state is reserved and cleared on any other state.
	UpsertCell(ctx context.Context, idStatic int64, state model.CellState, res *model.Reservation, now time.Time) (int64, error)
	// RecentlyModifiedCells returns up to limit cells ordered by
	// modified_at descending, for the polling bridge.
	RecentlyModifiedCells(ctx context.Context, limit int) ([]model.ParkingCell, error)

	// CreateOpenRecord opens an occupancy interval for the cell. It fails
	// with apperr.ErrConflict if an open record already exists.
	CreateOpenRecord(ctx context.Context, cellIDStatic int64, start time.Time) (int64, error)
	// CloseMostRecentOpenRecord sets end on the most recent open record of
	// the cell. It is a no-op when no open record exists.
	CloseMostRecentOpenRecord(ctx context.Context, cellIDStatic int64, end time.Time) error
	// AllOccupancyRecords returns the full append-only history.
	AllOccupancyRecords(ctx context.Context) ([]model.OccupancyRecord, error)

	// Transaction runs fn against a store bound to a single transaction.
	Transaction(ctx context.Context, fn func(Store) error) error
	// ChangeFeed probes the backend for ordered change capture. When
	// supported, every committed upsert emits a CellChange on the returned
	// channel in per-cell commit order; upserts rolled back with their
	// transaction never surface.
	ChangeFeed() (<-chan CellChange, error)
	// DB exposes the raw handle for collaborators outside the core
	// (subscription handlers, notification worker).
	DB() *gorm.DB
}

// gormStore implements Store using GORM. Inside a transaction, change events
// are buffered and only reach the feed once the transaction commits; a
// rollback discards them.
type gormStore struct {
	db     *gorm.DB
	log    *zap.Logger
	feed   chan CellChange
	feedOn *atomic.Bool

	buffered bool
	pending  []CellChange
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB, log *zap.Logger) Store {
	return &gormStore{
		db:     db,
		log:    log,
		feed:   make(chan CellChange, feedBuffer),
		feedOn: &atomic.Bool{},
	}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) CellByStaticID(ctx context.Context, idStatic int64) (*model.ParkingCell, error) {
	var cell model.ParkingCell
	err := s.db.WithContext(ctx).Where("id_static = ?", idStatic).First(&cell).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("cell %d: %w", idStatic, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup cell %d: %w", idStatic, err)
	}
	normalizeReservation(&cell)
	return &cell, nil
}

func (s *gormStore) AllCells(ctx context.Context) ([]model.ParkingCell, error) {
	var cells []model.ParkingCell
	if err := s.db.WithContext(ctx).Find(&cells).Error; err != nil {
		return nil, fmt.Errorf("scan cells: %w", err)
	}
	for i := range cells {
		normalizeReservation(&cells[i])
	}
	return cells, nil
}

func (s *gormStore) RecentlyModifiedCells(ctx context.Context, limit int) ([]model.ParkingCell, error) {
	var cells []model.ParkingCell
	err := s.db.WithContext(ctx).
		Order("modified_at DESC").
		Limit(limit).
		Find(&cells).Error
	if err != nil {
		return nil, fmt.Errorf("scan recently modified cells: %w", err)
	}
	for i := range cells {
		normalizeReservation(&cells[i])
	}
	return cells, nil
}

func (s *gormStore) UpsertCell(ctx context.Context, idStatic int64, state model.CellState, res *model.Reservation, now time.Time) (int64, error) {
	if state != model.StateReserved {
		res = nil
	}

	var cell model.ParkingCell
	err := s.db.WithContext(ctx).Where("id_static = ?", idStatic).First(&cell).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if state == model.StateReserved && res == nil {
			return 0, apperr.Validation("reservation", "required when state is reserved")
		}
		cell = model.ParkingCell{
			IDStatic:    idStatic,
			State:       state,
			Reservation: res,
			CreatedAt:   now,
			CreatedBy:   systemActor,
			ModifiedAt:  now,
			ModifiedBy:  systemActor,
		}
		if err := s.db.WithContext(ctx).Create(&cell).Error; err != nil {
			return 0, fmt.Errorf("create cell %d: %w", idStatic, err)
		}
		s.emit(CellChange{Op: OpCreated, Cell: cell, At: now})
		return cell.ID, nil
	case err != nil:
		return 0, fmt.Errorf("lookup cell %d: %w", idStatic, err)
	}

	if state == model.StateReserved && res == nil {
		// A write-only report may re-assert reserved without carrying the
		// payload; the existing reservation is retained in that case.
		if cell.State != model.StateReserved || cell.Reservation == nil {
			return 0, apperr.Validation("reservation", "required when state is reserved")
		}
		res = cell.Reservation
	}

	updates := map[string]any{
		"state":                   string(state),
		"modified_at":             now,
		"modified_by":             systemActor,
		"reservation_reserved_by": nil,
		"reservation_start":       nil,
		"reservation_end":         nil,
		"reservation_reason":      nil,
	}
	if res != nil {
		updates["reservation_reserved_by"] = res.ReservedBy
		updates["reservation_start"] = res.Start
		updates["reservation_end"] = res.End
		updates["reservation_reason"] = res.Reason
	}

	err = s.db.WithContext(ctx).
		Model(&model.ParkingCell{}).
		Where("id_static = ?", idStatic).
		Updates(updates).Error
	if err != nil {
		return 0, fmt.Errorf("update cell %d: %w", idStatic, err)
	}

	cell.State = state
	cell.Reservation = res
	cell.ModifiedAt = now
	cell.ModifiedBy = systemActor
	s.emit(CellChange{Op: OpUpdated, Cell: cell, At: now})
	return cell.ID, nil
}

func (s *gormStore) CreateOpenRecord(ctx context.Context, cellIDStatic int64, start time.Time) (int64, error) {
	var open int64
	err := s.db.WithContext(ctx).
		Model(&model.OccupancyRecord{}).
		Where("cell_id = ? AND end_time IS NULL", cellIDStatic).
		Count(&open).Error
	if err != nil {
		return 0, fmt.Errorf("count open records for cell %d: %w", cellIDStatic, err)
	}
	if open > 0 {
		return 0, fmt.Errorf("open occupancy record already exists for cell %d: %w", cellIDStatic, apperr.ErrConflict)
	}

	rec := model.OccupancyRecord{
		CellID: cellIDStatic,
		Start:  start,
		Status: model.StateOccupied,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("create open record for cell %d: %w", cellIDStatic, err)
	}
	return rec.ID, nil
}

func (s *gormStore) CloseMostRecentOpenRecord(ctx context.Context, cellIDStatic int64, end time.Time) error {
	var rec model.OccupancyRecord
	err := s.db.WithContext(ctx).
		Where("cell_id = ? AND end_time IS NULL", cellIDStatic).
		Order("start_time DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Transitions observed before this process initialized may have no
		// open record to close.
		return nil
	}
	if err != nil {
		return fmt.Errorf("find open record for cell %d: %w", cellIDStatic, err)
	}

	err = s.db.WithContext(ctx).
		Model(&model.OccupancyRecord{}).
		Where("id = ?", rec.ID).
		Update("end_time", end).Error
	if err != nil {
		return fmt.Errorf("close open record for cell %d: %w", cellIDStatic, err)
	}
	return nil
}

func (s *gormStore) AllOccupancyRecords(ctx context.Context) ([]model.OccupancyRecord, error) {
	var recs []model.OccupancyRecord
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("scan occupancy records: %w", err)
	}
	return recs, nil
}

func (s *gormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	txStore := &gormStore{log: s.log, feed: s.feed, feedOn: s.feedOn, buffered: true}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txStore.db = tx
		return fn(txStore)
	})
	if err != nil {
		return err
	}
	// Only now is the batch visible to other readers; flushing earlier would
	// announce state that a rollback takes back.
	for _, change := range txStore.pending {
		s.emit(change)
	}
	return nil
}

// ChangeFeed requires ordered transactional commits, which only the postgres
// backend provides. sqlite deployments get ErrChangeFeedUnsupported and the
// bridge polls instead.
func (s *gormStore) ChangeFeed() (<-chan CellChange, error) {
	if s.db.Dialector.Name() != "postgres" {
		return nil, ErrChangeFeedUnsupported
	}
	s.feedOn.Store(true)
	return s.feed, nil
}

func (s *gormStore) emit(change CellChange) {
	if s.buffered {
		s.pending = append(s.pending, change)
		return
	}
	if !s.feedOn.Load() {
		return
	}
	select {
	case s.feed <- change:
	default:
		metrics.FeedEventsDropped.Inc()
		s.log.Warn("change feed buffer full, dropping event",
			zap.Int64("idStatic", change.Cell.IDStatic),
			zap.String("op", string(change.Op)))
	}
}

// normalizeReservation enforces the state/reservation invariant on read:
// a reservation object is only ever visible on a reserved cell.
func normalizeReservation(c *model.ParkingCell) {
	if c.State != model.StateReserved {
		c.Reservation = nil
	}
}
