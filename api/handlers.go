/*
handlers.go - HTTP API handlers for the car insurance service

PURPOSE:
  Exposes cars, insurance validity, claims and history over REST, plus
  operator endpoints for the expiration monitor. Handles HTTP request and
  response, JSON serialization, and delegates to insurance.Service.

ENDPOINTS:
  Cars:
    GET    /api/cars                             List cars with owners
    GET    /api/cars/{carId}/insurance-valid     Validity on ?date=YYYY-MM-DD
    POST   /api/cars/{carId}/claims              File a claim
    GET    /api/cars/{carId}/history             Policies and claims by date

  Monitor:
    GET    /api/monitor/status                   Last passes, next run
    POST   /api/monitor/scan                     Run one window pass now

  Operations:
    GET    /healthz                              Liveness + database ping

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate VIN)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/warp/car-insurance/insurance"
	"github.com/warp/car-insurance/monitor"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// MonitorControl is the part of *monitor.Monitor exposed over HTTP.
type MonitorControl interface {
	Status() monitor.Status
	ScanWindow(ctx context.Context) monitor.PassResult
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *insurance.Service
	Monitor MonitorControl
	DB      Pinger
	Log     logrus.FieldLogger
}

// NewHandler creates a handler. mon and db may be nil, in which case the
// monitor endpoints answer 503 and /healthz skips the database check.
func NewHandler(svc *insurance.Service, mon MonitorControl, db Pinger, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{Service: svc, Monitor: mon, DB: db, Log: log}
}

// =============================================================================
// CAR HANDLERS
// =============================================================================

// ListCars returns all cars.
func (h *Handler) ListCars(w http.ResponseWriter, r *http.Request) {
	cars, err := h.Service.ListCars(r.Context())
	if err != nil {
		h.handleError(w, r, "Failed to list cars", err)
		return
	}

	dtos := make([]CarDTO, len(cars))
	for i, c := range cars {
		dtos[i] = toCarDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// IsInsuranceValid reports whether the car is covered on ?date.
func (h *Handler) IsInsuranceValid(w http.ResponseWriter, r *http.Request) {
	carID, ok := carIDParam(w, r)
	if !ok {
		return
	}

	date, err := insurance.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date. Use strict format YYYY-MM-DD", err)
		return
	}

	valid, err := h.Service.IsInsuranceValid(r.Context(), carID, date)
	if err != nil {
		h.handleError(w, r, "Failed to check insurance validity", err)
		return
	}

	writeJSON(w, http.StatusOK, InsuranceValidityResponse{
		CarID: int64(carID),
		Date:  date.String(),
		Valid: valid,
	})
}

// AddClaim files a claim against the car.
func (h *Handler) AddClaim(w http.ResponseWriter, r *http.Request) {
	carID, ok := carIDParam(w, r)
	if !ok {
		return
	}

	var req CreateClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	claim, err := h.Service.AddClaim(r.Context(), carID, insurance.ClaimInput{
		ClaimDate:   req.ClaimDate,
		Description: req.Description,
		Amount:      req.Amount,
	})
	if err != nil {
		h.handleError(w, r, "Failed to add claim", err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"car_id":   carID,
		"claim_id": claim.ID,
	}).Info("Claim added")

	w.Header().Set("Location", fmt.Sprintf("/api/cars/%d/claims/%d", carID, claim.ID))
	writeJSON(w, http.StatusCreated, toClaimDTO(*claim))
}

// GetHistory returns the car's policies and claims in chronological order.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	carID, ok := carIDParam(w, r)
	if !ok {
		return
	}

	entries, err := h.Service.History(r.Context(), carID)
	if err != nil {
		h.handleError(w, r, "Failed to load history", err)
		return
	}

	dtos := make([]HistoryEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toHistoryEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// MONITOR HANDLERS
// =============================================================================

// GetMonitorStatus returns the expiration monitor state.
func (h *Handler) GetMonitorStatus(w http.ResponseWriter, r *http.Request) {
	if h.Monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "Expiration monitor is not running", nil)
		return
	}
	writeJSON(w, http.StatusOK, toMonitorStatusDTO(h.Monitor.Status()))
}

// TriggerScan runs one window pass. It waits for a pass already in
// progress to finish first.
func (h *Handler) TriggerScan(w http.ResponseWriter, r *http.Request) {
	if h.Monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "Expiration monitor is not running", nil)
		return
	}

	res := h.Monitor.ScanWindow(r.Context())
	if res.Err != nil {
		writeJSON(w, http.StatusInternalServerError, toPassDTO(&res))
		return
	}
	writeJSON(w, http.StatusOK, toPassDTO(&res))
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness and database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Database: "skipped"}
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			h.Log.WithError(err).Warn("Health check: database ping failed")
			resp.Status, resp.Database = "degraded", "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Database = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

// carIDParam reads {carId}. The route pattern only admits digits, so a
// parse failure means the value overflowed int64.
func carIDParam(w http.ResponseWriter, r *http.Request) (insurance.CarID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "carId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Car not found", nil)
		return 0, false
	}
	return insurance.CarID(id), true
}

// handleError maps domain errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case insurance.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Car not found", err)
	case insurance.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, insurance.ErrDuplicateVIN):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.Log.WithError(err).WithField("path", r.URL.Path).Error(message)
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
