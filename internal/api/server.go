// Package api serves the rig over HTTP: prometheus metrics, a JSON status
// view of the latest tick, and operator endpoints that stage changes on the
// running engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/san-kum/coolrig/internal/engine"
	"github.com/san-kum/coolrig/internal/monitoring"
	"github.com/san-kum/coolrig/internal/rig"
)

// Controller is the part of the engine the operator endpoints drive.
type Controller interface {
	Config() engine.ControlConfig
	SetTemperatureMode(on bool)
	SetDecoupler(on bool)
	SetSetpoint(zone int, sp rig.Setpoint) error
	SetManualFlow(zone int, rate float64) error
	SetGains(zone int, g rig.Gains) error
	SetBoundary(zone int, b rig.Boundary) error
	ResetPID(zone int) error
	DisableSchedule()
}

var _ Controller = (*engine.Engine)(nil)

// Server keeps the latest tick for /status. Attach it to the engine as a
// sink.
type Server struct {
	ctrl    Controller
	metrics *Metrics
	router  *mux.Router

	mu   sync.RWMutex
	last *rig.Tick
}

var _ rig.Sink = (*Server)(nil)

func NewServer(ctrl Controller, metrics *Metrics) *Server {
	s := &Server{ctrl: ctrl, metrics: metrics}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods("GET")
	r.HandleFunc("/status", s.status).Methods("GET")
	r.HandleFunc("/config", s.config).Methods("GET")
	r.HandleFunc("/mode", s.mode).Methods("PUT")
	r.HandleFunc("/schedule", s.disableSchedule).Methods("DELETE")
	r.HandleFunc("/zones/{zone:[0-9]+}/setpoint", s.setpoint).Methods("PUT", "DELETE")
	r.HandleFunc("/zones/{zone:[0-9]+}/flow", s.flow).Methods("PUT")
	r.HandleFunc("/zones/{zone:[0-9]+}/gains", s.gains).Methods("PUT")
	r.HandleFunc("/zones/{zone:[0-9]+}/boundary", s.boundary).Methods("PUT")
	r.HandleFunc("/zones/{zone:[0-9]+}/reset", s.reset).Methods("POST")
	if metrics != nil {
		r.Handle("/metrics", metrics.Handler()).Methods("GET")
	}
	s.router = r
	return s
}

func (s *Server) Record(t *rig.Tick) error {
	s.mu.Lock()
	s.last = t
	s.mu.Unlock()
	return nil
}

func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.LoggingHandler(logWriter{}, s.router),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("api: listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// logWriter routes access log lines to the diagnostic logger.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	monitoring.Logf("api: %s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type zoneStatus struct {
	Zone        int       `json:"zone"`
	Temperature *float64  `json:"temperature"`
	Setpoint    *float64  `json:"setpoint"`
	Flow        *float64  `json:"flow"`
	Command     *float64  `json:"command"`
	Source      string    `json:"source"`
	Gains       gainsJSON `json:"gains"`
	Boundary    [4]int    `json:"boundary"`
}

type scheduleStatus struct {
	State     string    `json:"state"`
	Start     *float64  `json:"start,omitempty"`
	End       *float64  `json:"end,omitempty"`
	Values    []float64 `json:"values,omitempty"`
	Remaining int       `json:"remaining"`
}

type statusResponse struct {
	Seq             int            `json:"seq"`
	Time            float64        `json:"time"`
	TemperatureMode bool           `json:"temperature_mode"`
	Decoupled       bool           `json:"decoupled"`
	Schedule        scheduleStatus `json:"schedule"`
	Zones           []zoneStatus   `json:"zones"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	t := s.last
	s.mu.RUnlock()
	if t == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no tick yet"))
		return
	}

	resp := statusResponse{
		Seq:             t.Seq,
		Time:            t.Time,
		TemperatureMode: t.TemperatureMode,
		Decoupled:       t.Decoupled,
		Schedule: scheduleStatus{
			State:     t.Schedule.State,
			Values:    t.Schedule.Values,
			Remaining: t.Schedule.Remaining,
		},
		Zones: make([]zoneStatus, t.Zones()),
	}
	if t.Schedule.State != "" && t.Schedule.State != "disabled" {
		resp.Schedule.Start = number(t.Schedule.Start)
		resp.Schedule.End = number(t.Schedule.End)
	}
	for i := range resp.Zones {
		z := zoneStatus{Zone: i, Temperature: number(t.Temperatures[i])}
		if i < len(t.Setpoints) {
			z.Setpoint = number(t.Setpoints[i].Float())
		}
		if i < len(t.Flows) {
			z.Flow = number(t.Flows[i])
		}
		if i < len(t.Commands) {
			z.Command = number(t.Commands[i])
		}
		if i < len(t.Sources) {
			z.Source = t.Sources[i]
		}
		if i < len(t.Gains) {
			z.Gains = gainsOf(t.Gains[i])
		}
		if i < len(t.Boundaries) {
			z.Boundary = t.Boundaries[i].Array()
		}
		resp.Zones[i] = z
	}
	writeJSON(w, http.StatusOK, resp)
}

type zoneConfigJSON struct {
	Zone       int       `json:"zone"`
	Setpoint   *float64  `json:"setpoint"`
	ManualFlow float64   `json:"manual_flow"`
	Gains      gainsJSON `json:"gains"`
	Boundary   [4]int    `json:"boundary"`
}

type configResponse struct {
	TemperatureMode bool             `json:"temperature_mode"`
	Decouple        bool             `json:"decouple"`
	Schedule        string           `json:"schedule,omitempty"`
	Zones           []zoneConfigJSON `json:"zones"`
}

// config reports the staged configuration, which may be ahead of /status
// by up to one tick.
func (s *Server) config(w http.ResponseWriter, r *http.Request) {
	cfg := s.ctrl.Config()
	resp := configResponse{
		TemperatureMode: cfg.TemperatureMode,
		Decouple:        cfg.Decouple,
		Zones:           make([]zoneConfigJSON, len(cfg.Zones)),
	}
	if cfg.Schedule != nil {
		resp.Schedule = cfg.Schedule.Source
		if resp.Schedule == "" {
			resp.Schedule = "loaded"
		}
	}
	for i, z := range cfg.Zones {
		resp.Zones[i] = zoneConfigJSON{
			Zone:       i,
			Setpoint:   number(z.Setpoint.Float()),
			ManualFlow: z.ManualFlow,
			Gains:      gainsOf(z.Gains),
			Boundary:   z.Boundary.Array(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) mode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Temperature *bool `json:"temperature"`
		Decouple    *bool `json:"decouple"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Temperature != nil {
		s.ctrl.SetTemperatureMode(*req.Temperature)
	}
	if req.Decouple != nil {
		s.ctrl.SetDecoupler(*req.Decouple)
	}
	s.config(w, r)
}

func (s *Server) disableSchedule(w http.ResponseWriter, r *http.Request) {
	s.ctrl.DisableSchedule()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setpoint(w http.ResponseWriter, r *http.Request) {
	zone, ok := zoneVar(w, r)
	if !ok {
		return
	}
	sp := rig.NoTarget
	if r.Method == http.MethodPut {
		var req struct {
			Value *float64 `json:"value"`
		}
		if !decode(w, r, &req) {
			return
		}
		if req.Value != nil {
			sp = rig.Target(*req.Value)
		}
	}
	s.staged(w, r, s.ctrl.SetSetpoint(zone, sp))
}

func (s *Server) flow(w http.ResponseWriter, r *http.Request) {
	zone, ok := zoneVar(w, r)
	if !ok {
		return
	}
	var req struct {
		Rate float64 `json:"rate"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.staged(w, r, s.ctrl.SetManualFlow(zone, req.Rate))
}

func (s *Server) gains(w http.ResponseWriter, r *http.Request) {
	zone, ok := zoneVar(w, r)
	if !ok {
		return
	}
	current := gainsOf(rig.Gains{})
	if cfg := s.ctrl.Config(); zone < len(cfg.Zones) {
		current = gainsOf(cfg.Zones[zone].Gains)
	}
	// Omitted gains keep their staged value.
	if !decode(w, r, &current) {
		return
	}
	if current.Kp < 0 || current.Ki < 0 || current.Kd < 0 {
		writeError(w, http.StatusBadRequest, errors.New("gains must not be negative"))
		return
	}
	s.staged(w, r, s.ctrl.SetGains(zone, rig.Gains{Kp: current.Kp, Ki: current.Ki, Kd: current.Kd}))
}

func (s *Server) boundary(w http.ResponseWriter, r *http.Request) {
	zone, ok := zoneVar(w, r)
	if !ok {
		return
	}
	var req [4]int
	if !decode(w, r, &req) {
		return
	}
	s.staged(w, r, s.ctrl.SetBoundary(zone, rig.BoundaryFrom(req)))
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	zone, ok := zoneVar(w, r)
	if !ok {
		return
	}
	if err := s.ctrl.ResetPID(zone); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// staged answers a zone change with the staged configuration.
func (s *Server) staged(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.config(w, r)
}

type gainsJSON struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`
}

func gainsOf(g rig.Gains) gainsJSON {
	return gainsJSON{Kp: g.Kp, Ki: g.Ki, Kd: g.Kd}
}

func zoneVar(w http.ResponseWriter, r *http.Request) (int, bool) {
	zone, err := strconv.Atoi(mux.Vars(r)["zone"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid zone: %w", err))
		return 0, false
	}
	return zone, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, rig.ErrZoneIndex):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrEmptyBoundary):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// number maps NaN to nil, which encodes as null.
func number(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
