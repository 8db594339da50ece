// Package gateway is the HTTP boundary for telephony webhooks. Every inbound
// request passes rate limiting, then signature validation, then dispatch;
// rejected requests are audit-logged and answered with opaque status codes.
package gateway

import (
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/munivoice/munivoice-go/pkg/audit"
	"github.com/munivoice/munivoice-go/pkg/security/ratelimit"
	"github.com/munivoice/munivoice-go/pkg/security/webhook"
	"github.com/munivoice/munivoice-go/pkg/session"
	"github.com/munivoice/munivoice-go/pkg/version"
)

// Signature headers on provider webhooks.
const (
	HeaderSignature = "X-Munivoice-Signature"
	HeaderTimestamp = "X-Munivoice-Timestamp"
)

// maxBodyBytes bounds webhook bodies; provider callbacks are small forms.
const maxBodyBytes = 64 << 10

var (
	requestsRejected = expvar.NewMap("munivoice_gateway_rejected")
	callsAccepted    = expvar.NewInt("munivoice_gateway_calls_accepted")
)

// SessionFactory builds the session config for an accepted call.
type SessionFactory func(callSID, caller string) session.Config

// Config wires the gateway's collaborators.
type Config struct {
	Logger    *slog.Logger
	Limiter   *ratelimit.Limiter
	Validator *webhook.Validator
	Registry  *session.Registry
	Audit     *audit.Logger
	Sessions  SessionFactory

	// StreamURL is the websocket endpoint the provider connects its media
	// stream to, e.g. wss://host/voice/stream.
	StreamURL string
}

// Gateway handles the provider-facing HTTP surface.
type Gateway struct {
	logger    *slog.Logger
	limiter   *ratelimit.Limiter
	validator *webhook.Validator
	registry  *session.Registry
	auditor   *audit.Logger
	sessions  SessionFactory
	streamURL string
	now       func() time.Time
}

// New creates a Gateway.
func New(cfg Config) (*Gateway, error) {
	if cfg.Limiter == nil || cfg.Validator == nil || cfg.Registry == nil ||
		cfg.Audit == nil || cfg.Sessions == nil {
		return nil, fmt.Errorf("limiter, validator, registry, audit, and session factory are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = "wss://localhost/voice/stream"
	}
	return &Gateway{
		logger:    cfg.Logger,
		limiter:   cfg.Limiter,
		validator: cfg.Validator,
		registry:  cfg.Registry,
		auditor:   cfg.Audit,
		sessions:  cfg.Sessions,
		streamURL: cfg.StreamURL,
		now:       time.Now,
	}, nil
}

// Routes registers the gateway's handlers on mux.
func (g *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /voice/incoming", g.handleIncoming)
	mux.HandleFunc("POST /voice/status", g.handleStatus)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.Handle("GET /debug/vars", expvar.Handler())
}

func (g *Gateway) handleIncoming(w http.ResponseWriter, r *http.Request) {
	form, ok := g.admit(w, r, "/voice/incoming")
	if !ok {
		return
	}

	callSID := form.Get("CallSid")
	caller := form.Get("From")
	if callSID == "" {
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}

	sess, err := g.registry.Create(g.sessions(callSID, caller))
	if err != nil {
		// A duplicate SID is a replayed webhook, not a new call.
		g.logger.Warn("session create rejected",
			slog.String("call_sid", callSID),
			slog.String("error", err.Error()))
		http.Error(w, "conflict", http.StatusConflict)
		return
	}
	callsAccepted.Add(1)
	g.logger.Info("incoming call accepted",
		slog.String("call_sid", callSID),
		slog.String("caller", sess.Caller()))

	// Tell the provider to open the media stream for this call.
	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<Response><Connect><Stream url=%q/></Connect></Response>`, g.streamURL)
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	form, ok := g.admit(w, r, "/voice/status")
	if !ok {
		return
	}

	callSID := form.Get("CallSid")
	status := form.Get("CallStatus")
	sess, found := g.registry.Get(callSID)
	if !found {
		// Late callbacks for removed sessions are expected.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch status {
	case "completed", "failed", "busy", "no-answer", "canceled":
		sess.Hangup()
		if err := sess.ConfirmTeardown(r.Context()); err != nil {
			g.logger.Warn("teardown failed",
				slog.String("call_sid", callSID),
				slog.String("error", err.Error()))
		}
		g.registry.ScheduleRemoval(callSID)
	default:
		g.logger.Debug("call status update",
			slog.String("call_sid", callSID),
			slog.String("status", status))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":          "ok",
		"version":         version.Version,
		"active_sessions": g.registry.Len(),
	})
}

// admit runs the shared admission checks: body read, rate limit, signature.
// It writes the rejection response itself and reports ok=false.
func (g *Gateway) admit(w http.ResponseWriter, r *http.Request, route string) (url.Values, bool) {
	sourceIP := clientIP(r)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}

	// Rate limit by source IP. The From field is attacker-supplied on the
	// forged traffic this limit exists to stop, so it cannot be part of the
	// identity. Counting happens before validation so forged traffic burns
	// the forger's budget either way.
	if !g.limiter.Allow(sourceIP, route) {
		requestsRejected.Add("rate_limited", 1)
		g.recordRejection(r, audit.Entry{
			Type:        audit.EventRateLimited,
			SourceIP:    sourceIP,
			Result:      audit.ResultFailure,
			ActionTaken: "REJECTED",
			Details:     map[string]string{"route": route, "identity": sourceIP},
		})
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return nil, false
	}

	if err := g.validator.Validate(webhook.Request{
		SourceIP:  sourceIP,
		Signature: r.Header.Get(HeaderSignature),
		Timestamp: r.Header.Get(HeaderTimestamp),
		Body:      body,
	}, g.now()); err != nil {
		requestsRejected.Add("invalid_signature", 1)
		g.recordRejection(r, audit.Entry{
			Type:        audit.EventValidationFailure,
			SourceIP:    sourceIP,
			Result:      audit.ResultFailure,
			ActionTaken: "REJECTED",
			Details:     map[string]string{"route": route, "reason": err.Error()},
		})
		// One opaque answer for every validation failure; the reason lives
		// only in the audit trail.
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil, false
	}

	return form, true
}

func (g *Gateway) recordRejection(r *http.Request, entry audit.Entry) {
	if _, err := g.auditor.Record(r.Context(), entry); err != nil {
		g.logger.Error("audit record failed", slog.String("error", err.Error()))
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
