package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playclock_logins_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)

	LogoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playclock_logouts_total",
			Help: "Closed sessions by logout reason",
		},
		[]string{"reason"},
	)

	PlaytimeSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playclock_playtime_seconds_total",
			Help: "Session seconds folded into daily budgets",
		},
	)

	OpenSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playclock_open_sessions",
			Help: "Open sessions seen by the last enforcement sweep",
		},
	)

	// Sweep metrics
	SweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playclock_sweeps_total",
			Help: "Enforcement sweep ticks by outcome",
		},
		[]string{"outcome"},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playclock_sweep_duration_seconds",
			Help:    "Enforcement sweep duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
	)

	SweepErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playclock_sweep_errors_total",
			Help: "Forced logouts that failed during a sweep",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		LoginsTotal,
		LogoutsTotal,
		PlaytimeSecondsTotal,
		OpenSessions,
		SweepsTotal,
		SweepDuration,
		SweepErrorsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
