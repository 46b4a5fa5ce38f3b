// Package reservation is the single source of truth for constructing valid
// reservations. Callers must not assemble a model.Reservation by hand when
// moving a cell into the reserved state.
package reservation

import (
	"strings"
	"time"

	"parking-occupancy-backend/internal/apperr"
	"parking-occupancy-backend/internal/model"
)

// Raw carries the unvalidated reservation fields as supplied by a caller.
type Raw struct {
	ReservedBy string `json:"reservedBy"`
	Start      string `json:"start"`
	End        string `json:"end"`
	Reason     string `json:"reason"`
}

// Build validates raw and constructs an immutable Reservation.
// It has no side effects.
func Build(raw Raw) (model.Reservation, error) {
	if strings.TrimSpace(raw.ReservedBy) == "" {
		return model.Reservation{}, apperr.Validation("reservedBy", "is required")
	}
	start, err := time.Parse(time.RFC3339, raw.Start)
	if err != nil {
		return model.Reservation{}, apperr.Validation("start", "invalid timestamp %q", raw.Start)
	}
	end, err := time.Parse(time.RFC3339, raw.End)
	if err != nil {
		return model.Reservation{}, apperr.Validation("end", "invalid timestamp %q", raw.End)
	}
	if !start.Before(end) {
		return model.Reservation{}, apperr.Validation("end", "must be after start")
	}
	if strings.TrimSpace(raw.Reason) == "" {
		return model.Reservation{}, apperr.Validation("reason", "is required")
	}
	return model.Reservation{
		ReservedBy: raw.ReservedBy,
		Start:      start,
		End:        end,
		Reason:     raw.Reason,
	}, nil
}
