// Package ops implements the read-only operability HTTP surface: liveness
// and readiness probes, hand-rolled Prometheus-text counters, and a
// bearer-JWT-protected subscriber-status/live-transaction-feed API. It
// never touches subscriber provisioning — no create/edit/delete path
// exists here, matching spec's explicit "no subscription-management UI"
// Non-goal. Grounded on the teacher's pkg/health (counters/status shape)
// and pkg/web (route/middleware/websocket shape).
package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/protei/hss/internal/store"
	"github.com/protei/hss/pkg/auth"
	"github.com/protei/hss/pkg/health"
)

// observer is the narrow transaction-outcome sink internal/s6a.Dispatcher
// expects, duplicated here to avoid importing internal/s6a from pkg/ops.
type observer interface {
	Observe(imsi, command string, resultCode uint32, latency time.Duration)
}

// Fanout is an Observer that forwards each outcome to every wrapped
// observer in order — used to wire both Counters and a stream Server onto
// the same Dispatcher.
type Fanout []observer

// Observe implements the transaction-observer contract.
func (f Fanout) Observe(imsi, command string, resultCode uint32, latency time.Duration) {
	for _, o := range f {
		o.Observe(imsi, command, resultCode, latency)
	}
}

// Counters accumulates AIR/ULR outcome counts and latency totals. It
// satisfies internal/s6a.Observer by structural typing — this package never
// imports internal/s6a to avoid a dependency from the domain core onto its
// own operability surface.
type Counters struct {
	mu          sync.Mutex
	startedAt   time.Time
	byCommand   map[string]int64
	byResult    map[string]int64
	latencySumMs map[string]float64
}

// NewCounters constructs an empty Counters, timestamped at process start.
func NewCounters() *Counters {
	return &Counters{
		startedAt:    time.Now(),
		byCommand:    make(map[string]int64),
		byResult:     make(map[string]int64),
		latencySumMs: make(map[string]float64),
	}
}

// Observe implements the transaction-observer contract used by
// internal/s6a.Dispatcher.
func (c *Counters) Observe(imsi, command string, resultCode uint32, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byCommand[command]++
	key := fmt.Sprintf("%s:%d", command, resultCode)
	c.byResult[key]++
	c.latencySumMs[command] += float64(latency.Microseconds()) / 1000.0
}

func (c *Counters) snapshot() (uptime time.Duration, byCommand, byResult map[string]int64, latencySumMs map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byCommand = make(map[string]int64, len(c.byCommand))
	for k, v := range c.byCommand {
		byCommand[k] = v
	}
	byResult = make(map[string]int64, len(c.byResult))
	for k, v := range c.byResult {
		byResult[k] = v
	}
	latencySumMs = make(map[string]float64, len(c.latencySumMs))
	for k, v := range c.latencySumMs {
		latencySumMs[k] = v
	}
	return time.Since(c.startedAt), byCommand, byResult, latencySumMs
}

// diamResultSuccess is DIAMETER_SUCCESS (2001); any other result code is
// recorded as an error in the health check.
const diamResultSuccess = 2001

// Server is the ops HTTP API.
type Server struct {
	store     store.Store
	authSvc   *auth.Service
	counters  *Counters
	health    *health.Check
	server    *http.Server
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
}

// Config configures a Server.
type Config struct {
	ListenAddr string
	Store      store.Store
	AuthSvc    *auth.Service
	Counters   *Counters
}

// New constructs an ops Server. It starts its own health.Check with a
// 30-second status tick; the watchdog is left disabled since a Diameter
// handler answering slowly is not grounds for killing the process.
func New(cfg Config) *Server {
	return &Server{
		store:    cfg.Store,
		authSvc:  cfg.AuthSvc,
		counters: cfg.Counters,
		health:   health.New(&health.Config{CheckInterval: 30 * time.Second}),
		clients:  make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		server: &http.Server{
			Addr:         cfg.ListenAddr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start registers routes and begins serving. It blocks until Stop shuts the
// server down.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/ops/login", s.handleLogin)
	mux.HandleFunc("/ops/subscribers/", s.requireAuth(s.handleSubscriberStatus))
	mux.HandleFunc("/ops/stream", s.handleStream)
	s.server.Handler = mux
	return s.server.ListenAndServe()
}

// Stop gracefully shuts the server down, closing any open websocket feeds.
func (s *Server) Stop(ctx context.Context) error {
	s.clientsMu.Lock()
	for c := range s.clients {
		c.Close()
	}
	s.clientsMu.Unlock()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := s.health.GetStatus()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, status)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.health.UpdateComponentStatus("store", false, err.Error())
		s.sendJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	s.health.UpdateComponentStatus("store", true, "")
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleMetrics writes Prometheus text-format counters by hand, matching the
// teacher's hand-rolled approach rather than pulling in a metrics library.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	uptime, byCommand, byResult, latencySumMs := s.counters.snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP hss_uptime_seconds Process uptime in seconds.\n")
	fmt.Fprintf(w, "# TYPE hss_uptime_seconds gauge\n")
	fmt.Fprintf(w, "hss_uptime_seconds %f\n", uptime.Seconds())

	fmt.Fprintf(w, "# HELP hss_transactions_total Total S6a transactions handled, by command.\n")
	fmt.Fprintf(w, "# TYPE hss_transactions_total counter\n")
	for cmd, n := range byCommand {
		fmt.Fprintf(w, "hss_transactions_total{command=%q} %d\n", cmd, n)
	}

	fmt.Fprintf(w, "# HELP hss_transactions_by_result_total Transactions by command and result code.\n")
	fmt.Fprintf(w, "# TYPE hss_transactions_by_result_total counter\n")
	for key, n := range byResult {
		parts := strings.SplitN(key, ":", 2)
		fmt.Fprintf(w, "hss_transactions_by_result_total{command=%q,result_code=%q} %d\n", parts[0], parts[1], n)
	}

	fmt.Fprintf(w, "# HELP hss_transaction_latency_ms_sum Sum of transaction latency in milliseconds, by command.\n")
	fmt.Fprintf(w, "# TYPE hss_transaction_latency_ms_sum counter\n")
	for cmd, sum := range latencySumMs {
		fmt.Fprintf(w, "hss_transaction_latency_ms_sum{command=%q} %f\n", cmd, sum)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.authSvc.Authenticate(req.Username, req.Password)
	if err != nil {
		s.sendError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"token": session.Token})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.sendError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := s.authSvc.ValidateToken(parts[1]); err != nil {
			s.sendError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r)
	}
}

// subscriberStatus is the status-only view of a subscriber — SQN, queue
// depth, last-issued RAND presence — never key material.
type subscriberStatus struct {
	IMSI        string `json:"imsi"`
	SQN         uint64 `json:"sqn"`
	QueueDepth  int    `json:"queue_depth"`
	HasLastRAND bool   `json:"has_last_rand"`
	UseRemote   bool   `json:"use_remote"`
}

func (s *Server) handleSubscriberStatus(w http.ResponseWriter, r *http.Request) {
	imsi := strings.TrimPrefix(r.URL.Path, "/ops/subscribers/")
	rec, err := s.store.Get(r.Context(), imsi)
	if err != nil {
		s.sendError(w, http.StatusNotFound, "subscriber not found")
		return
	}
	s.sendJSON(w, http.StatusOK, subscriberStatus{
		IMSI:        rec.IMSI,
		SQN:         rec.Security.SQN,
		QueueDepth:  len(rec.Queue),
		HasLastRAND: len(rec.Security.RAND) > 0,
		UseRemote:   rec.Security.UseRemote,
	})
}

// handleStream upgrades to a websocket feed of AIR/ULR transaction outcomes.
// Authentication is via a `token` query parameter, since browser WebSocket
// clients cannot set an Authorization header on the upgrade request.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := s.authSvc.ValidateToken(token); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.clientsMu.Lock()
	s.clients[conn] = true
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Observe implements the transaction-observer contract, forwarding every
// outcome to connected stream clients. Wire Counters and *Server together
// via a Fanout when both metrics and a live feed are wanted.
func (s *Server) Observe(imsi, command string, resultCode uint32, latency time.Duration) {
	s.health.RecordTransaction()
	if resultCode != diamResultSuccess {
		s.health.RecordError(fmt.Errorf("%s %s: result code %d", command, imsi, resultCode))
	}
	s.Broadcast(imsi, command, resultCode, latency)
}

// Broadcast pushes a transaction outcome to every connected stream client.
func (s *Server) Broadcast(imsi, command string, resultCode uint32, latency time.Duration) {
	payload := map[string]interface{}{
		"imsi":        imsi,
		"command":     command,
		"result_code": resultCode,
		"latency_ms":  float64(latency.Microseconds()) / 1000.0,
		"timestamp":   time.Now().Unix(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		_ = c.WriteMessage(websocket.TextMessage, data)
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, map[string]string{"error": message})
}
