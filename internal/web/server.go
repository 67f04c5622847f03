// Package web provides the HTTP status server for the light-controller daemon.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/VictoriaMetrics/metrics"

	"github.com/sweeney/light-controller/internal/schedule"
	"github.com/sweeney/light-controller/internal/status"
)

// Server serves the status page, its JSON form and Prometheus metrics.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/schedule.json", s.handleSchedule)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/metrics", handleMetrics)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(w, true)
}

// scheduleJSON describes the window as the controller currently sees it.
// Active is null until the RTC has given a good reading.
type scheduleJSON struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Enabled   bool   `json:"enabled"`
	Overnight bool   `json:"overnight"`
	Active    *bool  `json:"active"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	out := scheduleJSON{
		Start:     snap.Window.Start.String(),
		End:       snap.Window.End.String(),
		Enabled:   snap.ScheduleEnabled,
		Overnight: snap.Window.Wraps(),
	}
	if snap.Clock.OK {
		active := snap.ScheduleEnabled && snap.Window.Contains(schedule.At(snap.Clock.Time))
		out.Active = &active
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleHealth answers 503 while the controller is running blind: no good RTC
// reading, so the schedule cannot be evaluated, or no broker to take commands.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()

	var problems []string
	if !snap.Clock.OK {
		problems = append(problems, "rtc: no good reading")
	}
	if !snap.MQTTConnected {
		problems = append(problems, "mqtt: disconnected")
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if len(problems) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		for _, p := range problems {
			fmt.Fprintln(w, p)
		}
		return
	}
	fmt.Fprintln(w, "ok")
}
