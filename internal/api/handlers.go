// Package api exposes the HTTP surface: measurement ingest, the observer
// websocket, and the alert, trend, historical and threshold query APIs.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	gwebsocket "github.com/gorilla/websocket"

	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/anomaly"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/auth"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/model"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/storage"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/trend"
	"github.com/GRID-Lords/digital-twin-opendss-sub000/internal/websocket"
)

var upgrader = gwebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler wires the HTTP endpoints to the pipeline components.
type Handler struct {
	store      *storage.TieredStore
	alerts     *storage.AlertStore
	thresholds *storage.ThresholdStore
	trends     *trend.Calculator
	ingestor   *anomaly.Ingestor
	hub        *websocket.Hub
	auth       *auth.Manager
	logger     *slog.Logger
}

func NewHandler(
	store *storage.TieredStore,
	alerts *storage.AlertStore,
	thresholds *storage.ThresholdStore,
	trends *trend.Calculator,
	ingestor *anomaly.Ingestor,
	hub *websocket.Hub,
	authManager *auth.Manager,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		store:      store,
		alerts:     alerts,
		thresholds: thresholds,
		trends:     trends,
		ingestor:   ingestor,
		hub:        hub,
		auth:       authManager,
		logger:     logger.With("component", "api"),
	}
}

// HandleDataIngest receives a measurement payload from the simulation/SCADA
// translators, writes every sample to the tiered store and pushes a live
// frame to observers.
func (h *Handler) HandleDataIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	defer r.Body.Close()

	samples, err := model.ParseMeasurements(body, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	for _, sample := range samples {
		h.store.PutSample(r.Context(), sample)
	}
	h.hub.BroadcastData(samples)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "received",
		"samples": len(samples),
	})
}

// HandleAnomalyTrigger accepts an anomaly event from the detection
// collaborator and runs it through the deduplication guard.
func (h *Handler) HandleAnomalyTrigger(w http.ResponseWriter, r *http.Request) {
	var ev anomaly.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "cannot parse anomaly event")
		return
	}

	outcome, err := h.ingestor.Ingest(r.Context(), ev)
	if errors.Is(err, anomaly.ErrIncompleteEvent) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("anomaly ingest failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create anomaly alert")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"created":    outcome.Created,
		"suppressed": !outcome.Created,
		"alert":      outcome.Alert,
	})
}

// HandleWebSocket upgrades the connection and registers the observer.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := websocket.NewClient(h.hub, conn, h.logger)
	h.hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
}

// HandleLogin authenticates an operator and issues a JWT.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "cannot parse credentials")
		return
	}
	role, err := h.auth.AuthenticateUser(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := h.auth.GenerateJWT(req.Username, role)
	if err != nil {
		h.logger.Error("issuing token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "role": role})
}

// HandleListAlerts lists alerts with filters and pagination, newest first.
func (h *Handler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := storage.AlertQuery{
		AssetID: r.URL.Query().Get("asset_id"),
		Limit:   queryInt(r, "limit", 100),
		Offset:  queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("unresolved_only"); v == "true" {
		open := false
		q.Resolved = &open
	}
	if v := r.URL.Query().Get("severity"); v != "" {
		for _, s := range strings.Split(v, ",") {
			q.Severities = append(q.Severities, model.ParseSeverity(s))
		}
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			q.From = ts
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			q.To = ts
		}
	}

	alerts, total, err := h.alerts.List(r.Context(), q)
	if err != nil {
		h.logger.Error("listing alerts failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	unresolved := 0
	for _, a := range alerts {
		if a.Open() {
			unresolved++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":            total,
		"alerts":           alerts,
		"unresolved_count": unresolved,
	})
}

// HandleGetAlert returns one alert by id.
func (h *Handler) HandleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrAlertNotFound) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		h.logger.Error("reading alert failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read alert")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// HandleAcknowledgeAlert marks an alert acknowledged.
func (h *Handler) HandleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.alerts.Acknowledge(r.Context(), id)
	if errors.Is(err, storage.ErrAlertNotFound) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		h.logger.Error("acknowledging alert failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to acknowledge alert")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "alert_id": id})
}

// HandleResolveAlert closes an alert. Explicit operator action; threshold
// alerts never auto-resolve when the value returns in range.
func (h *Handler) HandleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.alerts.Resolve(r.Context(), id, time.Now())
	if errors.Is(err, storage.ErrAlertNotFound) {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		h.logger.Error("resolving alert failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve alert")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "alert_id": id})
}

// HandleTrend bundles the metric's current value with its trend over the
// requested comparison period.
func (h *Handler) HandleTrend(w http.ResponseWriter, r *http.Request) {
	metricKey := r.URL.Query().Get("metric")
	if metricKey == "" {
		writeError(w, http.StatusBadRequest, "metric parameter required")
		return
	}
	periodName := r.URL.Query().Get("period")
	if periodName == "" {
		periodName = "1h"
	}
	period, ok := trend.Periods[periodName]
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported period: "+periodName)
		return
	}

	var current *model.MetricSample
	var err error
	if assetID := r.URL.Query().Get("asset_id"); assetID != "" {
		current, err = h.store.GetLatest(r.Context(), assetID, metricKey)
	} else {
		current, err = h.store.GetLatestMetric(r.Context(), metricKey)
	}
	if err != nil {
		h.logger.Error("reading current value failed", "metric", metricKey, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read current value")
		return
	}
	if current == nil {
		writeError(w, http.StatusNotFound, "no data for metric "+metricKey)
		return
	}

	result, err := h.trends.Compute(r.Context(), metricKey, current.Value, period)
	if err != nil && !errors.Is(err, trend.ErrInsufficientHistory) {
		h.logger.Error("trend computation failed", "metric", metricKey, "error", err)
	}
	// Insufficient history renders as the neutral stable result, not an error.

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metric":        metricKey,
		"period":        periodName,
		"current_value": current.Value,
		"timestamp":     current.Timestamp,
		"trend":         result,
	})
}

var resolutionNames = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"1d":  24 * time.Hour,
}

// HandleHistorical returns the rollup series for a metric over a window.
func (h *Handler) HandleHistorical(w http.ResponseWriter, r *http.Request) {
	metricKey := r.URL.Query().Get("metric")
	if metricKey == "" {
		writeError(w, http.StatusBadRequest, "metric parameter required")
		return
	}
	hours := queryInt(r, "hours", 24)
	resolution, ok := resolutionNames[r.URL.Query().Get("resolution")]
	if !ok {
		resolution = 15 * time.Minute
	}

	cursor, err := h.store.GetHistorical(r.Context(), metricKey, time.Duration(hours)*time.Hour, resolution)
	if err != nil {
		h.logger.Error("historical query failed", "metric", metricKey, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	defer cursor.Close()

	records := make([]model.RollupRecord, 0)
	for cursor.Next() {
		records = append(records, cursor.Record())
	}
	if err := cursor.Err(); err != nil {
		h.logger.Error("historical iteration failed", "metric", metricKey, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"metric":     metricKey,
		"hours":      hours,
		"resolution": resolution.String(),
		"data":       records,
		"summary":    summarize(records),
	})
}

func summarize(records []model.RollupRecord) map[string]interface{} {
	if len(records) == 0 {
		return map[string]interface{}{"count": 0}
	}
	min, max := records[0].Min, records[0].Max
	var sum float64
	var n int64
	for _, r := range records {
		if r.Min < min {
			min = r.Min
		}
		if r.Max > max {
			max = r.Max
		}
		sum += r.Avg * float64(r.Count)
		n += r.Count
	}
	avg := 0.0
	if n > 0 {
		avg = sum / float64(n)
	}
	return map[string]interface{}{"avg": avg, "min": min, "max": max, "count": n}
}

// Threshold CRUD.

func (h *Handler) HandleListThresholds(w http.ResponseWriter, r *http.Request) {
	thresholds, err := h.thresholds.ListAll(r.Context())
	if err != nil {
		h.logger.Error("listing thresholds failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list thresholds")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"thresholds": thresholds})
}

func (h *Handler) HandleCreateThreshold(w http.ResponseWriter, r *http.Request) {
	var t model.Threshold
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "cannot parse threshold")
		return
	}
	if t.AssetID == "" || t.MetricKey == "" {
		writeError(w, http.StatusBadRequest, "asset_id and metric_key are required")
		return
	}
	if t.Min > t.Max {
		writeError(w, http.StatusBadRequest, "min must not exceed max")
		return
	}
	t.Severity = model.ParseSeverity(string(t.Severity))
	if err := h.thresholds.Create(r.Context(), &t); err != nil {
		h.logger.Error("creating threshold failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create threshold")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) HandleUpdateThreshold(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid threshold id")
		return
	}
	var t model.Threshold
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "cannot parse threshold")
		return
	}
	if t.Min > t.Max {
		writeError(w, http.StatusBadRequest, "min must not exceed max")
		return
	}
	t.ID = uint(id)
	t.Severity = model.ParseSeverity(string(t.Severity))
	err = h.thresholds.Update(r.Context(), &t)
	if errors.Is(err, storage.ErrThresholdNotFound) {
		writeError(w, http.StatusNotFound, "threshold not found")
		return
	}
	if err != nil {
		h.logger.Error("updating threshold failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update threshold")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "id": id})
}

func (h *Handler) HandleDeleteThreshold(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid threshold id")
		return
	}
	err = h.thresholds.Delete(r.Context(), uint(id))
	if errors.Is(err, storage.ErrThresholdNotFound) {
		writeError(w, http.StatusNotFound, "threshold not found")
		return
	}
	if err != nil {
		h.logger.Error("deleting threshold failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete threshold")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "id": id})
}

// HandleHealth reports per-tier connectivity and the open alert count.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	open, err := h.alerts.CountOpen(r.Context())
	status := "operational"
	if err != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      status,
		"hot_cache":   h.store.Healthy(r.Context()),
		"open_alerts": open,
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
