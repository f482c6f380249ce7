/*
handlers_test.go - Tests for API handlers

Tests for:
- Car listing and insurance validity (date parsing, coverage boundaries)
- Claim creation and validation
- History ordering
- Monitor status and manual scan
- Health and metrics endpoints
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/car-insurance/insurance"
	"github.com/warp/car-insurance/monitor"
	"github.com/warp/car-insurance/store/sqldb"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router  http.Handler
	store   *sqldb.Store
	monitor *monitor.Monitor
}

// newTestServer serves the seeded demo data: car 1 (Logan) insured
// 2024-01-01..2025-12-31, car 2 (Golf) insured 2025-03-01..2025-09-30.
func newTestServer(t *testing.T) *testServer {
	store, err := sqldb.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = insurance.Seed(context.Background(), store)
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	clock := insurance.NewFixedClock(time.Date(2025, 1, 2, 0, 15, 0, 0, time.UTC))
	mon := monitor.New(store, monitor.WithClock(clock), monitor.WithLogger(logger))

	h := NewHandler(insurance.NewService(store), mon, store, logger)
	router := NewRouter(h, RouterOptions{Gatherer: prometheus.NewRegistry()})
	return &testServer{router: router, store: store, monitor: mon}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// CARS
// =============================================================================

func TestListCars(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/cars", "")

	require.Equal(t, http.StatusOK, rec.Code)
	cars := decode[[]CarDTO](t, rec)
	require.Len(t, cars, 2)
	assert.Equal(t, int64(1), cars[0].ID)
	assert.Equal(t, "VIN12345", cars[0].VIN)
	assert.Equal(t, "Ana Pop", cars[0].OwnerName)
	assert.Equal(t, 2021, cars[1].YearOfManufacture)
	assert.Contains(t, rec.Body.String(), `"yearOfManufacture"`)
}

func TestInsuranceValid_Boundaries(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		path string
		want bool
	}{
		{"/api/cars/1/insurance-valid?date=2024-01-01", true},
		{"/api/cars/1/insurance-valid?date=2024-12-31", true},
		{"/api/cars/1/insurance-valid?date=2023-12-31", false},
		{"/api/cars/1/insurance-valid?date=2025-06-10", true},
		{"/api/cars/2/insurance-valid?date=2025-09-30", true},
		{"/api/cars/2/insurance-valid?date=2025-10-01", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := srv.do(t, http.MethodGet, tt.path, "")

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			resp := decode[InsuranceValidityResponse](t, rec)
			assert.Equal(t, tt.want, resp.Valid)
		})
	}
}

func TestInsuranceValid_EchoesRequest(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/cars/2/insurance-valid?date=2025-09-30", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"carId":2,"date":"2025-09-30","valid":true}`, rec.Body.String())
}

func TestInsuranceValid_InvalidDate_BadRequest(t *testing.T) {
	srv := newTestServer(t)

	for _, date := range []string{"", "01/06/2024", "2024-2-3", "2024-02-30", "abc", "2024-01-01T00:00:00"} {
		rec := srv.do(t, http.MethodGet, "/api/cars/1/insurance-valid?date="+date, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, date)
	}

	rec := srv.do(t, http.MethodGet, "/api/cars/1/insurance-valid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInsuranceValid_UnknownCar_NotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/cars/999999/insurance-valid?date=2025-01-01", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/cars/abc/insurance-valid?date=2025-01-01", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// CLAIMS
// =============================================================================

func TestAddClaim_Created(t *testing.T) {
	// GIVEN: A valid claim for car 2
	srv := newTestServer(t)
	body := `{"claimDate":"2025-05-01","description":"oglinda","amount":350.50}`

	// WHEN: Posting it
	rec := srv.do(t, http.MethodPost, "/api/cars/2/claims", body)

	// THEN: 201 with a Location pointing at the new claim
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	claim := decode[ClaimDTO](t, rec)
	assert.Equal(t, int64(2), claim.CarID)
	assert.Equal(t, "2025-05-01", claim.ClaimDate.String())
	assert.Equal(t, "350.5", claim.Amount.String())
	assert.Equal(t, "/api/cars/2/claims/"+jsonNumber(claim.ID), rec.Header().Get("Location"))
	assert.Contains(t, rec.Body.String(), `"amount":350.5`)

	// AND: It shows up in the history
	rec = srv.do(t, http.MethodGet, "/api/cars/2/history", "")
	history := decode[[]HistoryEntryDTO](t, rec)
	assert.Len(t, history, 3)
}

func TestAddClaim_AmountAsString(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/cars/1/claims",
		`{"claimDate":"2025-05-01","description":"geam","amount":"0.10"}`)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "0.1", decode[ClaimDTO](t, rec).Amount.String())
}

func TestAddClaim_Rejections(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"negative amount", "/api/cars/1/claims", `{"claimDate":"2025-05-01","description":"x","amount":-1}`, http.StatusBadRequest},
		{"blank description", "/api/cars/1/claims", `{"claimDate":"2025-05-01","description":"  ","amount":1}`, http.StatusBadRequest},
		{"missing date", "/api/cars/1/claims", `{"description":"x","amount":1}`, http.StatusBadRequest},
		{"bad date", "/api/cars/1/claims", `{"claimDate":"2025-5-1","description":"x","amount":1}`, http.StatusBadRequest},
		{"malformed json", "/api/cars/1/claims", `{"claimDate":`, http.StatusBadRequest},
		{"unknown car", "/api/cars/999999/claims", `{"claimDate":"2025-05-01","description":"x","amount":1}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			resp := decode[ErrorResponse](t, rec)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

// =============================================================================
// HISTORY
// =============================================================================

func TestGetHistory_Chronological(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/api/cars/1/history", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 4)

	assert.Equal(t, "Policy", entries[0]["type"])
	assert.Equal(t, "2024-01-01", entries[0]["startDate"])
	assert.Equal(t, "2024-12-31", entries[0]["endDate"])
	assert.Equal(t, "Allianz", entries[0]["details"])
	assert.Nil(t, entries[0]["amount"])

	assert.Equal(t, "Claim", entries[1]["type"])
	assert.Equal(t, "2024-05-12", entries[1]["startDate"])
	assert.Nil(t, entries[1]["endDate"])
	assert.Equal(t, 1200.0, entries[1]["amount"])

	assert.Equal(t, "Policy", entries[2]["type"])
	assert.Equal(t, "Claim", entries[3]["type"])
}

func TestGetHistory_UnknownCar(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/api/cars/999999/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// MONITOR
// =============================================================================

func TestMonitorScan_NotifiesExpiredPolicy(t *testing.T) {
	// GIVEN: It is 2025-01-02T00:15Z and car 1's first policy ended 2024-12-31
	srv := newTestServer(t)

	// WHEN: Triggering a scan
	rec := srv.do(t, http.MethodPost, "/api/monitor/scan", "")

	// THEN: Exactly that policy is notified and marked
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pass := decode[PassDTO](t, rec)
	assert.Equal(t, "window", pass.Kind)
	assert.Equal(t, 1, pass.Notified)
	assert.NotEmpty(t, pass.ID)

	p, err := srv.store.GetPolicy(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, p.ExpirationNotifiedAt)

	// AND: A second scan finds nothing new
	rec = srv.do(t, http.MethodPost, "/api/monitor/scan", "")
	assert.Equal(t, 0, decode[PassDTO](t, rec).Notified)

	// AND: Status reflects both passes
	rec = srv.do(t, http.MethodGet, "/api/monitor/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[MonitorStatusDTO](t, rec)
	assert.Equal(t, 1, status.TotalNotified)
	require.NotNil(t, status.LastWindow)
	assert.Nil(t, status.LastStartup)
	assert.Equal(t, "10m0s", status.Interval)
}

func TestMonitorEndpoints_WithoutMonitor(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewHandler(nil, nil, nil, logger)
	router := NewRouter(h, RouterOptions{Gatherer: prometheus.NewRegistry()})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/monitor/status", nil),
		httptest.NewRequest(http.MethodPost, "/api/monitor/scan", nil),
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","database":"ok"}`, rec.Body.String())
}

func TestHealth_DatabaseDown(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.store.Close())

	rec := srv.do(t, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := monitor.NewMetrics(reg)
	metrics.Notified.Add(2)

	logger, _ := test.NewNullLogger()
	router := NewRouter(NewHandler(nil, nil, nil, logger), RouterOptions{Gatherer: reg})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "carinsurance_policy_expirations_notified_total 2")
}

func jsonNumber(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
