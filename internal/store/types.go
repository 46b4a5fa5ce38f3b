package store

import (
	"errors"
	"time"

	"parking-occupancy-backend/internal/model"
)

// ChangeOp classifies a cell store mutation as observed on the change feed.
type ChangeOp string

const (
	OpCreated  ChangeOp = "created"
	OpUpdated  ChangeOp = "updated"
	OpReplaced ChangeOp = "replaced"
	OpDeleted  ChangeOp = "deleted"
)

// CellChange is one observed mutation of the cell store.
type CellChange struct {
	Op   ChangeOp
	Cell model.ParkingCell
	At   time.Time
}

// ErrChangeFeedUnsupported is returned by ChangeFeed when the backing store
// cannot provide an ordered change feed. Callers fall back to polling.
var ErrChangeFeedUnsupported = errors.New("store: change feed not supported by this backend")
