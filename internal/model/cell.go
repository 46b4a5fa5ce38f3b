package model

import (
	"strings"
	"time"
)

// CellState enumerates the recognized states of a parking cell.
type CellState string

const (
	StateAvailable CellState = "available"
	StateOccupied  CellState = "occupied"
	StateReserved  CellState = "reserved"
	StateDisabled  CellState = "disabled"
)

// ParseCellState maps a wire state literal to a CellState. Device reports use
// the Spanish literals; the canonical English names are accepted as well.
func ParseCellState(raw string) (CellState, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "disponible", "available":
		return StateAvailable, true
	case "ocupado", "occupied":
		return StateOccupied, true
	case "reservado", "reserved":
		return StateReserved, true
	case "inhabilitado", "deshabilitado", "disabled":
		return StateDisabled, true
	}
	return "", false
}

// Reservation is an owned value object embedded in ParkingCell. It exists only
// while the owning cell is in the reserved state and is discarded on any
// transition away from it.
type Reservation struct {
	ReservedBy string    `gorm:"size:128" json:"reservedBy"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Reason     string    `gorm:"size:256" json:"reason"`
}

// ParkingCell is a single physical parking spot. IDStatic is the stable
// business key; ID is the storage identifier assigned on creation.
type ParkingCell struct {
	ID          int64        `gorm:"primaryKey" json:"id"`
	IDStatic    int64        `gorm:"column:id_static;uniqueIndex;not null" json:"idStatic"`
	State       CellState    `gorm:"size:32;not null" json:"state"`
	Reservation *Reservation `gorm:"embedded;embeddedPrefix:reservation_" json:"reservation,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	CreatedBy   string       `gorm:"size:64" json:"createdBy"`
	ModifiedAt  time.Time    `json:"modifiedAt"`
	ModifiedBy  string       `gorm:"size:64" json:"modifiedBy"`
}
