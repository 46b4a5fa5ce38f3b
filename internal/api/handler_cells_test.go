package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parking-occupancy-backend/internal/model"
	"parking-occupancy-backend/internal/reconcile"
	"parking-occupancy-backend/internal/recommend"
	"parking-occupancy-backend/internal/store/storetest"
)

func setupCellRouter(mem *storetest.Memory) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()
	engine := reconcile.NewEngine(mem, nil, log, reconcile.Config{})
	handler := NewHandler(Deps{
		Engine:  engine,
		Store:   mem,
		Deriver: recommend.NewDeriver(mem, 1, 80),
		Log:     log,
	})

	r := gin.New()
	r.POST("/api/cells/reconcile", handler.Reconcile)
	r.POST("/api/cells/bulk", handler.BulkWriteOnly)
	r.PUT("/api/cells/:id_static", handler.UpsertCell)
	r.GET("/api/cells", handler.GetCells)
	r.GET("/api/recommendations", handler.GetRecommendations)
	return r
}

func TestReconcileEndpoint(t *testing.T) {
	mem := storetest.NewMemory()
	router := setupCellRouter(mem)

	body := `{"sector-a":{"celdas":{"5":"ocupado","6":"disponible"}}}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/cells/reconcile", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Applied []reconcile.Transition `json:"applied"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Applied, 2)
	assert.Equal(t, int64(5), resp.Applied[0].IDStatic)
	assert.Equal(t, model.StateOccupied, resp.Applied[0].NewState)
	assert.Equal(t, int64(6), resp.Applied[1].IDStatic)
	assert.Equal(t, model.StateAvailable, resp.Applied[1].NewState)

	cell, err := mem.CellByStaticID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, model.StateOccupied, cell.State)
}

func TestReconcileEndpoint_RejectsBadInput(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"sector-a":`},
		{"unknown state literal", `{"sector-a":{"celdas":{"5":"volando"}}}`},
		{"non-numeric cell id", `{"sector-a":{"celdas":{"abc":"ocupado"}}}`},
		{"reserved via bulk path", `{"sector-a":{"celdas":{"5":"reservado"}}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mem := storetest.NewMemory()
			router := setupCellRouter(mem)

			w := httptest.NewRecorder()
			req, _ := http.NewRequest("POST", "/api/cells/reconcile", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)

			cells, err := mem.AllCells(context.Background())
			require.NoError(t, err)
			assert.Empty(t, cells, "rejected batches must not write")
		})
	}
}

func TestBulkWriteOnlyEndpoint_ReportsPerItemResults(t *testing.T) {
	mem := storetest.NewMemory()
	router := setupCellRouter(mem)

	body := `{"sector-a":{"celdas":{"5":"ocupado","6":"volando"}}}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/cells/bulk", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, "item failures never surface as an HTTP error")

	var resp struct {
		Results []reconcile.ItemResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "success", resp.Results[0].Status)
	assert.Equal(t, "error", resp.Results[1].Status)
	assert.Contains(t, resp.Results[1].Error, "volando")

	cell, err := mem.CellByStaticID(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, model.StateOccupied, cell.State)
}

func TestUpsertCellEndpoint(t *testing.T) {
	mem := storetest.NewMemory()
	router := setupCellRouter(mem)

	payload := map[string]any{
		"state": "reservado",
		"reservation": map[string]string{
			"reservedBy": "user-1",
			"start":      "2025-03-10T08:00:00Z",
			"end":        "2025-03-10T10:00:00Z",
			"reason":     "mantenimiento",
		},
	}
	body, _ := json.Marshal(payload)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/api/cells/5", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var cell model.ParkingCell
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cell))
	assert.Equal(t, int64(5), cell.IDStatic)
	assert.Equal(t, model.StateReserved, cell.State)
	require.NotNil(t, cell.Reservation)
	assert.Equal(t, "user-1", cell.Reservation.ReservedBy)
}

func TestUpsertCellEndpoint_Validation(t *testing.T) {
	testCases := []struct {
		name string
		path string
		body string
	}{
		{"non-numeric id", "/api/cells/abc", `{"state":"ocupado"}`},
		{"missing state", "/api/cells/5", `{}`},
		{"reserved without reservation", "/api/cells/5", `{"state":"reservado"}`},
		{"inverted reservation range", "/api/cells/5", `{"state":"reservado","reservation":{"reservedBy":"u","start":"2025-03-10T10:00:00Z","end":"2025-03-10T08:00:00Z","reason":"x"}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mem := storetest.NewMemory()
			router := setupCellRouter(mem)

			w := httptest.NewRecorder()
			req, _ := http.NewRequest("PUT", tc.path, strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestGetCellsEndpoint_SortedByStaticID(t *testing.T) {
	mem := storetest.NewMemory()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for _, id := range []int64{9, 2, 5} {
		_, err := mem.UpsertCell(context.Background(), id, model.StateAvailable, nil, now)
		require.NoError(t, err)
	}
	router := setupCellRouter(mem)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/cells", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var cells []model.ParkingCell
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cells))
	require.Len(t, cells, 3)
	assert.Equal(t, int64(2), cells[0].IDStatic)
	assert.Equal(t, int64(5), cells[1].IDStatic)
	assert.Equal(t, int64(9), cells[2].IDStatic)
}

func TestGetRecommendationsEndpoint(t *testing.T) {
	mem := storetest.NewMemory()
	start := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) // a Monday
	end := start.Add(time.Hour)
	mem.SeedRecords(model.OccupancyRecord{
		ID: 1, CellID: 5, Start: start, End: &end, Status: model.StateOccupied,
	})
	router := setupCellRouter(mem)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/recommendations", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var recs []recommend.WeekdayRecommendation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "Monday", recs[0].Weekday)
}
