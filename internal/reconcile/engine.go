// Package reconcile applies bulk and single-cell state updates to the cell
// store and derives the occupancy history that genuine transitions imply.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"parking-occupancy-backend/internal/apperr"
	"parking-occupancy-backend/internal/metrics"
	"parking-occupancy-backend/internal/model"
	"parking-occupancy-backend/internal/reservation"
	"parking-occupancy-backend/internal/store"
)

// SectorReport is the per-sector payload of a bulk report: stringified
// idStatic mapped to a state literal.
type SectorReport struct {
	Celdas map[string]string `json:"celdas"`
}

// Report maps sector labels to their cells. Sector labels are a reporting
// convenience and carry no reconciliation semantics.
type Report map[string]SectorReport

// Transition describes one applied state change. PreviousState is empty when
// the cell did not exist before the batch.
type Transition struct {
	IDStatic      int64             `json:"idStatic"`
	PreviousState model.CellState   `json:"previousState,omitempty"`
	NewState      model.CellState   `json:"newState"`
	Cell          model.ParkingCell `json:"cell"`
}

// ItemResult is the per-item outcome of the best-effort bulk path. Key is the
// raw report key, kept so a failure on an unparseable key can still be
// correlated to its input.
type ItemResult struct {
	Key      string `json:"key"`
	IDStatic int64  `json:"idStatic"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Notifier receives cells that transitioned into the available state.
type Notifier interface {
	Dispatch(idStatic int64)
}

// Config tunes the engine.
type Config struct {
	// MaxBatchSize bounds a single reconcile call; oversized batches are
	// rejected up front.
	MaxBatchSize int
	// Clock is injected for tests. Defaults to time.Now.
	Clock func() time.Time
}

// Engine is the state reconciliation engine.
type Engine struct {
	store    store.Store
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
	maxBatch int
}

// NewEngine creates an engine. notifier may be nil when push delivery is not
// configured.
func NewEngine(s store.Store, notifier Notifier, log *zap.Logger, cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	return &Engine{
		store:    s,
		notifier: notifier,
		log:      log,
		now:      cfg.Clock,
		maxBatch: cfg.MaxBatchSize,
	}
}

type reportItem struct {
	idStatic int64
	state    model.CellState
}

// flatten parses a report into (idStatic, state) pairs ordered by idStatic.
// Any malformed key or unknown state literal fails the whole report.
func flatten(report Report) ([]reportItem, error) {
	var items []reportItem
	for sector, cells := range report {
		for key, literal := range cells.Celdas {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return nil, apperr.Validation(sector, "invalid cell id %q", key)
			}
			state, ok := model.ParseCellState(literal)
			if !ok {
				return nil, apperr.Validation(key, "unknown state %q", literal)
			}
			items = append(items, reportItem{idStatic: id, state: state})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].idStatic < items[j].idStatic })
	return items, nil
}

// Reconcile applies only genuine transitions from the report and derives
// their history side effects. The whole batch is validated before any write
// and applied inside one store transaction; a failure leaves nothing applied.
func (e *Engine) Reconcile(ctx context.Context, report Report) ([]Transition, error) {
	items, err := flatten(report)
	if err != nil {
		metrics.ReconcileBatches.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if len(items) > e.maxBatch {
		metrics.ReconcileBatches.WithLabelValues("rejected").Inc()
		return nil, apperr.Validation("report", "batch of %d cells exceeds maximum of %d", len(items), e.maxBatch)
	}
	for _, it := range items {
		if it.state == model.StateReserved {
			metrics.ReconcileBatches.WithLabelValues("rejected").Inc()
			return nil, apperr.Validation(strconv.FormatInt(it.idStatic, 10),
				"bulk reports cannot move a cell into reserved; use the single-cell path")
		}
	}

	var applied []Transition
	err = e.store.Transaction(ctx, func(tx store.Store) error {
		now := e.now()
		type changed struct {
			idStatic int64
			prev     model.CellState
			next     model.CellState
			cell     model.ParkingCell
		}
		var changes []changed

		// Pass 1: apply every genuine state change.
		for _, it := range items {
			var prev model.CellState
			cur, err := tx.CellByStaticID(ctx, it.idStatic)
			if err != nil && !errors.Is(err, apperr.ErrNotFound) {
				return err
			}
			if cur != nil {
				prev = cur.State
			}
			if prev == it.state {
				continue
			}
			if _, err := tx.UpsertCell(ctx, it.idStatic, it.state, nil, now); err != nil {
				return err
			}
			after, err := tx.CellByStaticID(ctx, it.idStatic)
			if err != nil {
				return err
			}
			changes = append(changes, changed{
				idStatic: it.idStatic,
				prev:     prev,
				next:     it.state,
				cell:     *after,
			})
		}

		// Pass 2: historize, after all upserts are visible. The upserted
		// modifiedAt is the transition instant for opened records.
		for _, ch := range changes {
			switch {
			case ch.next == model.StateOccupied && ch.prev != model.StateOccupied:
				if _, err := tx.CreateOpenRecord(ctx, ch.idStatic, ch.cell.ModifiedAt); err != nil {
					return err
				}
			case ch.prev == model.StateOccupied && ch.next != model.StateOccupied:
				if err := tx.CloseMostRecentOpenRecord(ctx, ch.idStatic, e.now()); err != nil {
					return err
				}
			}
		}

		for _, ch := range changes {
			applied = append(applied, Transition{
				IDStatic:      ch.idStatic,
				PreviousState: ch.prev,
				NewState:      ch.next,
				Cell:          ch.cell,
			})
		}
		return nil
	})
	if err != nil {
		metrics.ReconcileBatches.WithLabelValues("failed").Inc()
		return nil, err
	}

	metrics.ReconcileBatches.WithLabelValues("applied").Inc()
	for _, t := range applied {
		metrics.TransitionsApplied.WithLabelValues(string(t.NewState)).Inc()
	}
	e.log.Info("reconciled batch",
		zap.Int("reported", len(items)),
		zap.Int("applied", len(applied)))

	if e.notifier != nil {
		for _, t := range applied {
			if t.NewState == model.StateAvailable && t.PreviousState != "" {
				e.notifier.Dispatch(t.IDStatic)
			}
		}
	}
	return applied, nil
}

// BulkWriteOnly writes new states without historization. Each item is applied
// independently; one item's failure never aborts the others. Results are
// ordered by idStatic.
func (e *Engine) BulkWriteOnly(ctx context.Context, report Report) []ItemResult {
	now := e.now()
	var results []ItemResult
	for _, cells := range report {
		for key, literal := range cells.Celdas {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				results = append(results, ItemResult{
					Key:    key,
					Status: "error",
					Error:  "invalid cell id " + strconv.Quote(key),
				})
				continue
			}
			state, ok := model.ParseCellState(literal)
			if !ok {
				results = append(results, ItemResult{
					Key:      key,
					IDStatic: id,
					Status:   "error",
					Error:    "unknown state " + strconv.Quote(literal),
				})
				continue
			}
			if _, err := e.store.UpsertCell(ctx, id, state, nil, now); err != nil {
				results = append(results, ItemResult{Key: key, IDStatic: id, Status: "error", Error: err.Error()})
				continue
			}
			results = append(results, ItemResult{Key: key, IDStatic: id, Status: "success"})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].IDStatic != results[j].IDStatic {
			return results[i].IDStatic < results[j].IDStatic
		}
		return results[i].Key < results[j].Key
	})
	return results
}

// UpsertOne is the authoritative single-cell path and the only way a cell may
// enter the reserved state.
func (e *Engine) UpsertOne(ctx context.Context, idStatic int64, rawState string, rawRes *reservation.Raw) (*model.ParkingCell, error) {
	state, ok := model.ParseCellState(rawState)
	if !ok {
		return nil, apperr.Validation("state", "unknown state %q", rawState)
	}

	var res *model.Reservation
	if state == model.StateReserved {
		if rawRes == nil {
			return nil, apperr.Validation("reservation", "required when state is reserved")
		}
		built, err := reservation.Build(*rawRes)
		if err != nil {
			return nil, err
		}
		res = &built
	}

	if _, err := e.store.UpsertCell(ctx, idStatic, state, res, e.now()); err != nil {
		return nil, err
	}
	metrics.TransitionsApplied.WithLabelValues(string(state)).Inc()
	return e.store.CellByStaticID(ctx, idStatic)
}
