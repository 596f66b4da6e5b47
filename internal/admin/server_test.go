package admin

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afewyards/ha-adaptive-climate-sub000/internal/domain/model"
	"github.com/afewyards/ha-adaptive-climate-sub000/internal/zone"
)

func newTestServer(t *testing.T) (*Server, *zone.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mgr := zone.NewManager(logger)
	require.NoError(t, mgr.Add(zone.New(zone.Config{
		ID:          "living_room",
		HeatingType: model.HeatingRadiator,
		Mode:        model.ModeHeat,
		Setpoint:    21.0,
		Gains:       model.Gains{Kp: 1.2, Ki: 0.1},
	}, logger, nil)))
	require.NoError(t, mgr.Add(zone.New(zone.Config{
		ID:          "bedroom",
		HeatingType: model.HeatingFloor,
		Mode:        model.ModeHeat,
		Setpoint:    19.0,
		Gains:       model.Gains{Kp: 0.8, Ki: 0.05},
	}, logger, nil)))

	return NewServer(mgr, logger), mgr
}

func TestListZones(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/zones", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var zones []zoneSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &zones))
	require.Len(t, zones, 2)

	byID := map[string]zoneSummary{}
	for _, z := range zones {
		byID[z.ID] = z
	}
	living := byID["living_room"]
	assert.Equal(t, "heat", living.Mode)
	assert.Equal(t, 21.0, living.Setpoint)
	assert.Equal(t, 1.2, living.Gains.Kp)
	assert.Equal(t, "idle", living.CycleState)
	assert.Empty(t, living.Override)
	assert.Contains(t, living.Confidence, "heat")
	assert.Contains(t, living.CycleCount, "cool")
}

func TestGetZone(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/zones/bedroom", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var z zoneSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &z))
	assert.Equal(t, "bedroom", z.ID)
	assert.Equal(t, 19.0, z.Setpoint)
}

func TestGetZone_Unknown(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/zones/attic", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAcceptProposal_NonePending(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/zones/living_room/accept", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "no pending proposal")
}

func TestSetpoint(t *testing.T) {
	srv, mgr := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/zones/living_room/setpoint", strings.NewReader(`{"value":22.5}`))
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "22.5")

	z, ok := mgr.Get("living_room")
	require.True(t, ok)
	assert.Eventually(t, func() bool {
		return z.Setpoint() == 22.5
	}, time.Second, 10*time.Millisecond)
}

func TestSetpoint_MissingValue(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/zones/living_room/setpoint", strings.NewReader(`{}`))
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "value is required")
}

func TestSetpoint_BadJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/zones/living_room/setpoint", strings.NewReader(`not json`))
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
