package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"parking-occupancy-backend/internal/bridge"
	"parking-occupancy-backend/internal/model"
	"parking-occupancy-backend/internal/reconcile"
	"parking-occupancy-backend/internal/reservation"
	"parking-occupancy-backend/internal/store"
)

func newIntegrationDB(t *testing.T) *gorm.DB {
	testDB, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, testDB.AutoMigrate(
		&model.ParkingCell{},
		&model.OccupancyRecord{},
		&model.PushSubscription{},
	))
	return testDB
}

// TestOccupancyLifecycle walks a cell from available to occupied and back
// through the reconciliation engine, verifying the database state after each
// cycle.
func TestOccupancyLifecycle(t *testing.T) {
	testDB := newIntegrationDB(t)
	s := store.NewGormStore(testDB, zap.NewNop())
	engine := reconcile.NewEngine(s, nil, zap.NewNop(), reconcile.Config{})
	ctx := context.Background()

	var observedStart time.Time
	t.Run("Cycle 1: cell becomes occupied", func(t *testing.T) {
		applied, err := engine.Reconcile(ctx, reconcile.Report{
			"sector-a": {Celdas: map[string]string{"101": "ocupado"}},
		})
		require.NoError(t, err)
		require.Len(t, applied, 1)
		assert.Equal(t, model.CellState(""), applied[0].PreviousState)
		assert.Equal(t, model.StateOccupied, applied[0].NewState)

		var cell model.ParkingCell
		require.NoError(t, testDB.Where("id_static = ?", 101).First(&cell).Error)
		assert.Equal(t, model.StateOccupied, cell.State)
		assert.Equal(t, "system", cell.ModifiedBy)

		var rec model.OccupancyRecord
		require.NoError(t, testDB.Where("cell_id = ?", 101).First(&rec).Error)
		assert.Nil(t, rec.End, "the interval must stay open while occupied")
		assert.Equal(t, cell.ModifiedAt.Unix(), rec.Start.Unix(),
			"the record opens at the transition instant")
		observedStart = rec.Start
	})

	t.Run("Cycle 2: re-reporting occupied is a no-op", func(t *testing.T) {
		applied, err := engine.Reconcile(ctx, reconcile.Report{
			"sector-a": {Celdas: map[string]string{"101": "ocupado"}},
		})
		require.NoError(t, err)
		assert.Empty(t, applied)

		var count int64
		testDB.Model(&model.OccupancyRecord{}).Where("cell_id = ?", 101).Count(&count)
		assert.Equal(t, int64(1), count, "no duplicate record for a repeated state")
	})

	t.Run("Cycle 3: cell becomes available", func(t *testing.T) {
		applied, err := engine.Reconcile(ctx, reconcile.Report{
			"sector-a": {Celdas: map[string]string{"101": "disponible"}},
		})
		require.NoError(t, err)
		require.Len(t, applied, 1)
		assert.Equal(t, model.StateOccupied, applied[0].PreviousState)
		assert.Equal(t, model.StateAvailable, applied[0].NewState)

		var rec model.OccupancyRecord
		require.NoError(t, testDB.Where("cell_id = ?", 101).First(&rec).Error)
		require.NotNil(t, rec.End, "the interval must close on leaving occupied")
		assert.False(t, rec.End.Before(observedStart), "end must not precede start")
	})
}

// TestReservationLifecycle verifies that reservations only flow through the
// single-cell path and survive bulk reports that re-assert them.
func TestReservationLifecycle(t *testing.T) {
	testDB := newIntegrationDB(t)
	s := store.NewGormStore(testDB, zap.NewNop())
	engine := reconcile.NewEngine(s, nil, zap.NewNop(), reconcile.Config{})
	ctx := context.Background()

	raw := &reservation.Raw{
		ReservedBy: "user-1",
		Start:      "2025-03-10T08:00:00Z",
		End:        "2025-03-10T10:00:00Z",
		Reason:     "mantenimiento",
	}

	cell, err := engine.UpsertOne(ctx, 201, "reservado", raw)
	require.NoError(t, err)
	require.NotNil(t, cell.Reservation)
	assert.Equal(t, "user-1", cell.Reservation.ReservedBy)

	// A bulk report may not move another cell into reserved.
	_, err = engine.Reconcile(ctx, reconcile.Report{
		"sector-b": {Celdas: map[string]string{"202": "reservado"}},
	})
	require.Error(t, err)

	// Releasing through the single-cell path clears the reservation.
	cell, err = engine.UpsertOne(ctx, 201, "disponible", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StateAvailable, cell.State)
	assert.Nil(t, cell.Reservation)

	var stored model.ParkingCell
	require.NoError(t, testDB.Where("id_static = ?", 201).First(&stored).Error)
	assert.Equal(t, model.StateAvailable, stored.State)
}

type recordingPublisher struct {
	events chan string
}

func (p *recordingPublisher) Publish(event string, payload any) {
	select {
	case p.events <- event:
	default:
	}
}

func (p *recordingPublisher) PublishToRoom(room, event string, payload any) {}

// TestBridgeFallsBackToPollingOnSQLite checks the capability probe end to end:
// a sqlite-backed store has no change feed, so the bridge must poll.
func TestBridgeFallsBackToPollingOnSQLite(t *testing.T) {
	testDB := newIntegrationDB(t)
	s := store.NewGormStore(testDB, zap.NewNop())

	_, err := s.ChangeFeed()
	require.ErrorIs(t, err, store.ErrChangeFeedUnsupported)

	_, err = s.UpsertCell(context.Background(), 301, model.StateOccupied, nil, time.Now())
	require.NoError(t, err)

	pub := &recordingPublisher{events: make(chan string, 16)}
	b := bridge.New(s, pub, zap.NewNop(), bridge.Config{PollInterval: 20 * time.Millisecond})
	b.Start(context.Background())
	defer b.Stop()

	assert.Equal(t, bridge.ModePolling, b.Status().Mode)

	select {
	case event := <-pub.events:
		assert.Equal(t, bridge.EventCellsUpdate, event)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a polling snapshot")
	}
}
