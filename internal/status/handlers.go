package status

import (
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ideinfo/internal/engine"
	"ideinfo/internal/notifier"
)

// Payload is the body of GET /status and the first WebSocket message.
type Payload struct {
	Engine  engine.Snapshot         `json:"engine"`
	Widget  WidgetState             `json:"widget"`
	Banners []notifier.Banner       `json:"banners"`
	Recent  []notifier.Notification `json:"recent,omitempty"`
	At      time.Time               `json:"at"`
}

type actionResult struct {
	OK      bool                 `json:"ok"`
	Outcome engine.Outcome       `json:"outcome,omitempty"`
	Version *engine.VersionState `json:"version,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// Handler builds the mux for cfg. Every route, /healthz included, sits
// behind the token check.
func (s *Service) Handler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.payload(r))
	})
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /open/webserver", s.open(func() (string, error) { return s.deps.Engine.OpenWebServer() }))
	mux.HandleFunc("GET /open/phpmyadmin", s.open(func() (string, error) { return s.deps.Engine.OpenPHPMyAdmin() }))

	mux.HandleFunc("POST /poll", func(w http.ResponseWriter, r *http.Request) {
		out, err := s.deps.Engine.TriggerNow(r.Context())
		res := actionResult{OK: err == nil && out != engine.OutcomeDropped, Outcome: out}
		code := http.StatusOK
		if err != nil {
			res.Error = err.Error()
			if errors.Is(err, engine.ErrStopped) {
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, res)
	})
	mux.HandleFunc("POST /provision", func(w http.ResponseWriter, r *http.Request) {
		err := s.deps.Engine.Provision(r.Context())
		res := actionResult{OK: err == nil}
		code := http.StatusOK
		if err != nil {
			res.Error = err.Error()
			code = http.StatusInternalServerError
		}
		writeJSON(w, code, res)
	})
	mux.HandleFunc("POST /latest", func(w http.ResponseWriter, r *http.Request) {
		err := s.deps.Engine.RefreshLatest(r.Context())
		vs := s.deps.Engine.Snapshot(r.Context()).Version
		res := actionResult{OK: err == nil, Version: &vs}
		code := http.StatusOK
		if err != nil {
			res.Error = err.Error()
			code = http.StatusBadGateway
		}
		writeJSON(w, code, res)
	})

	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return withAuth(cfg.Token, mux)
}

func (s *Service) payload(r *http.Request) Payload {
	p := Payload{
		Engine: s.deps.Engine.Snapshot(r.Context()),
		At:     time.Now(),
	}
	if s.deps.Widget != nil {
		p.Widget = s.deps.Widget.State()
	}
	if s.deps.Notices != nil {
		p.Banners = s.deps.Notices.Banners()
		p.Recent = s.deps.Notices.History()
	}
	return p
}

// open redirects to the link, or answers 409 when the host is not known yet.
func (s *Service) open(fn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := fn()
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, engine.ErrNoHost) {
				code = http.StatusConflict
			}
			writeJSON(w, code, actionResult{Error: err.Error()})
			return
		}
		http.Redirect(w, r, u, http.StatusFound)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
