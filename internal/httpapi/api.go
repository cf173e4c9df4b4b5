// Package httpapi serves the simulator's JSON status surface and the
// Prometheus endpoint. It is a read-only local ops interface over the
// fleet store; nothing here can mutate the simulation.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/signalsfoundry/agrinode-simulator/core"
	"github.com/signalsfoundry/agrinode-simulator/internal/logging"
	"github.com/signalsfoundry/agrinode-simulator/internal/observability"
	"github.com/signalsfoundry/agrinode-simulator/model"
	"github.com/signalsfoundry/agrinode-simulator/orbit"
)

// StatsSource exposes the scheduler's lifetime counters.
type StatsSource interface {
	Statistics() core.TxStats
}

// RelaySource exposes the pass tracker's latest geometry.
type RelaySource interface {
	Status() orbit.Status
}

// API bundles the handlers of the status surface.
type API struct {
	store     *core.FleetStore
	stats     StatsSource
	relay     RelaySource
	collector *observability.FleetCollector
	log       logging.Logger
	startedAt time.Time
}

// New wires the status API. relay and collector may be nil.
func New(store *core.FleetStore, stats StatsSource, relay RelaySource, collector *observability.FleetCollector, log logging.Logger) *API {
	if log == nil {
		log = logging.Noop()
	}
	return &API{
		store:     store,
		stats:     stats,
		relay:     relay,
		collector: collector,
		log:       log,
		startedAt: time.Now(),
	}
}

// Handler returns the fully wired HTTP handler: routes, request metrics
// and CORS.
func (a *API) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(a.instrument)
	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/api/nodes", a.handleNodes).Methods(http.MethodGet)
	r.HandleFunc("/api/nodes/{id}", a.handleNode).Methods(http.MethodGet)
	r.HandleFunc("/api/stats", a.handleStats).Methods(http.MethodGet)
	if a.collector != nil {
		r.Handle("/metrics", a.collector.Handler()).Methods(http.MethodGet)
	}

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(r)
}

// nodeView is the JSON shape of one node.
type nodeView struct {
	NodeID          uint16  `json:"node_id"`
	Crop            string  `json:"crop"`
	SoilMoisturePct float64 `json:"soil_moisture_pct"`
	AirTempC        float64 `json:"air_temp_c"`
	AirHumidityPct  float64 `json:"air_humidity_pct"`
	Irrigation      string  `json:"irrigation"`
	NeedsIrrigation bool    `json:"needs_irrigation"`
	SequenceNumber  uint32  `json:"sequence"`
	TxCount         uint32  `json:"tx_count"`
	LastRSSIdBm     int16   `json:"last_rssi_dbm"`
	DataTimestamp   uint32  `json:"data_timestamp"`
}

type statsView struct {
	UptimeSeconds uint64     `json:"uptime_seconds"`
	NodeCount     int        `json:"node_count"`
	TotalSent     uint64     `json:"total_sent"`
	TotalFailed   uint64     `json:"total_failed"`
	Relay         *relayView `json:"relay,omitempty"`
}

type relayView struct {
	Visible      bool    `json:"visible"`
	ElevationDeg float64 `json:"elevation_deg"`
	RangeKm      float64 `json:"range_km"`
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := a.store.SnapshotAll()
	views := make([]nodeView, len(nodes))
	for i, n := range nodes {
		views[i] = viewOf(n)
	}
	a.writeJSON(w, http.StatusOK, views)
}

func (a *API) handleNode(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "node id must be a 16-bit unsigned integer")
		return
	}
	n, ok := a.store.ByNodeID(uint16(id))
	if !ok {
		a.writeError(w, http.StatusNotFound, "no such node")
		return
	}
	a.writeJSON(w, http.StatusOK, viewOf(n))
}

func (a *API) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := a.stats.Statistics()
	view := statsView{
		UptimeSeconds: uint64(time.Since(a.startedAt).Seconds()),
		NodeCount:     a.store.Len(),
		TotalSent:     stats.TotalSent,
		TotalFailed:   stats.TotalFailed,
	}
	if a.relay != nil {
		s := a.relay.Status()
		view.Relay = &relayView{
			Visible:      s.Visible,
			ElevationDeg: s.ElevationDeg,
			RangeKm:      s.RangeKm,
		}
	}
	a.writeJSON(w, http.StatusOK, view)
}

func viewOf(n model.NodeState) nodeView {
	return nodeView{
		NodeID:          n.NodeID,
		Crop:            n.Crop.String(),
		SoilMoisturePct: n.SoilMoisturePct,
		AirTempC:        n.AirTempC,
		AirHumidityPct:  n.AirHumidityPct,
		Irrigation:      n.Irrigation.String(),
		NeedsIrrigation: n.NeedsIrrigation,
		SequenceNumber:  n.SequenceNumber,
		TxCount:         n.TxCount,
		LastRSSIdBm:     n.LastRSSIdBm,
		DataTimestamp:   n.DataTimestamp,
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn(context.Background(), "response encode failed", logging.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument records request counts and latency per route template.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.collector == nil {
			next.ServeHTTP(w, r)
			return
		}
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		a.collector.APIRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		a.collector.APIDurations.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
