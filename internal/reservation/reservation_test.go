package reservation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-occupancy-backend/internal/apperr"
)

func TestBuild(t *testing.T) {
	valid := Raw{
		ReservedBy: "u1",
		Start:      "2025-01-01T10:00:00Z",
		End:        "2025-01-01T12:00:00Z",
		Reason:     "visita",
	}

	testCases := []struct {
		name      string
		mutate    func(*Raw)
		wantField string
	}{
		{name: "valid", mutate: func(*Raw) {}},
		{
			name:      "missing reservedBy",
			mutate:    func(r *Raw) { r.ReservedBy = "" },
			wantField: "reservedBy",
		},
		{
			name:      "blank reservedBy",
			mutate:    func(r *Raw) { r.ReservedBy = "   " },
			wantField: "reservedBy",
		},
		{
			name:      "unparseable start",
			mutate:    func(r *Raw) { r.Start = "not-a-time" },
			wantField: "start",
		},
		{
			name:      "unparseable end",
			mutate:    func(r *Raw) { r.End = "2025-13-99" },
			wantField: "end",
		},
		{
			name: "end before start",
			mutate: func(r *Raw) {
				r.Start = "2025-01-01T10:00:00Z"
				r.End = "2025-01-01T09:00:00Z"
			},
			wantField: "end",
		},
		{
			name: "end equal to start",
			mutate: func(r *Raw) {
				r.Start = "2025-01-01T10:00:00Z"
				r.End = "2025-01-01T10:00:00Z"
			},
			wantField: "end",
		},
		{
			name:      "missing reason",
			mutate:    func(r *Raw) { r.Reason = "" },
			wantField: "reason",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			raw := valid
			tc.mutate(&raw)

			built, err := Build(raw)
			if tc.wantField == "" {
				require.NoError(t, err)
				assert.Equal(t, "u1", built.ReservedBy)
				assert.Equal(t, time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), built.Start)
				assert.Equal(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), built.End)
				assert.Equal(t, "visita", built.Reason)
				return
			}

			require.Error(t, err)
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.wantField, ve.Field)
		})
	}
}
