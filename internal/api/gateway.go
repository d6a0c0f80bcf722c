package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/indexing/metrics"
	"github.com/vietddude/streamledger/internal/indexing/reconciler"
)

// WebhookPath is where chainhook deliveries are accepted.
const WebhookPath = "/webhooks/chainhook"

// Ingester applies a delivery to the ledger.
type Ingester interface {
	Ingest(ctx context.Context, p *domain.Payload) (*reconciler.Result, error)
}

// GatewayConfig holds webhook configuration.
type GatewayConfig struct {
	Secret       string
	MaxBodyBytes int64
	Timeout      time.Duration
}

// Gateway authenticates and validates chainhook deliveries and hands them to
// the reconciler.
type Gateway struct {
	ingester Ingester
	config   GatewayConfig
	log      *slog.Logger
}

type processed struct {
	Applied    int `json:"applied"`
	RolledBack int `json:"rolledBack"`
}

type webhookResponse struct {
	Success   bool      `json:"success"`
	Processed processed `json:"processed"`
	Error     string    `json:"error,omitempty"`
}

// envelope distinguishes absent arrays from empty ones.
type envelope struct {
	Apply     *[]domain.Block       `json:"apply"`
	Rollback  *[]domain.Block       `json:"rollback"`
	Chainhook *domain.ChainhookInfo `json:"chainhook"`
}

// NewGateway creates a new ingress gateway.
func NewGateway(ingester Ingester, config GatewayConfig) *Gateway {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 8 << 20
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Gateway{
		ingester: ingester,
		config:   config,
		log:      slog.Default().With("component", "gateway"),
	}
}

// Register mounts the webhook route.
func (g *Gateway) Register(mux Mux) {
	mux.Handle("POST "+WebhookPath, g)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		status := strconv.Itoa(rec.status)
		metrics.WebhookRequests.WithLabelValues(status).Inc()
		metrics.WebhookLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	if !g.authorized(r) {
		g.log.Error("Rejected unauthenticated webhook",
			"remote", r.RemoteAddr,
			"alert", true,
		)
		writeError(rec, http.StatusUnauthorized, "unauthorized")
		return
	}

	p, err := g.decode(rec, r)
	if err != nil {
		g.log.Warn("Rejected invalid webhook", "remote", r.RemoteAddr, "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(rec, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		writeError(rec, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.config.Timeout)
	defer cancel()

	result, err := g.ingester.Ingest(ctx, p)
	resp := webhookResponse{Success: err == nil}
	if result != nil {
		resp.Processed = processed{Applied: result.Applied, RolledBack: result.RolledBack}
	}
	if err != nil {
		resp.Error = err.Error()
		g.log.Error("Webhook processing failed",
			"chainhook", p.Chainhook.UUID,
			"applied", resp.Processed.Applied,
			"rolled_back", resp.Processed.RolledBack,
			"error", err,
		)
		writeJSON(rec, http.StatusInternalServerError, resp)
		return
	}

	g.log.Debug("Webhook processed",
		"chainhook", p.Chainhook.UUID,
		"applied", result.Applied,
		"rolled_back", result.RolledBack,
		"skipped", result.Skipped,
	)
	writeJSON(rec, http.StatusOK, resp)
}

// authorized compares the bearer token in constant time. An unset secret
// rejects everything.
func (g *Gateway) authorized(r *http.Request) bool {
	if g.config.Secret == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(g.config.Secret)) == 1
}

func (g *Gateway) decode(w http.ResponseWriter, r *http.Request) (*domain.Payload, error) {
	body := http.MaxBytesReader(w, r.Body, g.config.MaxBodyBytes)
	defer body.Close()

	var env envelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}

	switch {
	case env.Apply == nil:
		return nil, fmt.Errorf("%w: missing apply", domain.ErrMalformedPayload)
	case env.Rollback == nil:
		return nil, fmt.Errorf("%w: missing rollback", domain.ErrMalformedPayload)
	case env.Chainhook == nil || env.Chainhook.UUID == "":
		return nil, fmt.Errorf("%w: missing chainhook uuid", domain.ErrMalformedPayload)
	}

	p := &domain.Payload{Apply: *env.Apply, Rollback: *env.Rollback, Chainhook: env.Chainhook}
	for _, blocks := range [][]domain.Block{p.Apply, p.Rollback} {
		for i := range blocks {
			if blocks[i].Hash() == "" {
				return nil, fmt.Errorf("%w: block %d has no hash", domain.ErrMalformedPayload, blocks[i].Height())
			}
		}
	}
	// Ordering metadata; only a genesis block may lack a parent.
	for i := range p.Apply {
		if b := &p.Apply[i]; b.Height() > 0 && b.ParentHash() == "" {
			return nil, fmt.Errorf("%w: block %d has no parent hash", domain.ErrMalformedPayload, b.Height())
		}
	}
	return p, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
