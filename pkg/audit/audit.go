// Package audit emits structured, tamper-evident compliance events. Every
// free-text payload field passes through the PII masker before the write that
// makes it durable, so raw caller data never reaches the log.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/munivoice/munivoice-go/pkg/pii"
)

// Masker sanitizes free text before persistence. *pii.Engine satisfies it.
type Masker interface {
	Mask(text string) string
	Detect(text string) []pii.Finding
}

// Entry is what callers hand to Record. The logger fills in identifiers,
// timestamps, tags, and scores.
type Entry struct {
	Type        string
	CallID      string
	SourceIP    string
	Result      string            // defaults to SUCCESS
	ActionTaken string
	PIIInvolved bool              // forced true when masking finds anything
	Details     map[string]string // free text; masked before write
}

// Config configures a Logger.
type Config struct {
	Store      Store
	Masker     Masker
	Logger     *slog.Logger
	MaxRetries int           // store write retries before alerting
	RetryDelay time.Duration // delay between write retries
	// Alert is invoked when a write is lost despite retries. Audit
	// completeness is a compliance requirement, so this must page a human
	// rather than vanish into a log line.
	Alert func(error)
}

// Logger records audit events. Safe for concurrent use.
type Logger struct {
	store      Store
	masker     Masker
	log        *slog.Logger
	maxRetries int
	retryDelay time.Duration
	alert      func(error)

	mu         sync.Mutex
	lastByCall map[string]time.Time
	now        func() time.Time
}

// New creates a Logger. Store and Masker are required.
func New(cfg Config) (*Logger, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	if cfg.Masker == nil {
		return nil, fmt.Errorf("PII masker is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.Alert == nil {
		cfg.Alert = func(err error) {
			cfg.Logger.Error("AUDIT WRITE LOST", slog.String("error", err.Error()))
		}
	}

	return &Logger{
		store:      cfg.Store,
		masker:     cfg.Masker,
		log:        cfg.Logger,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		alert:      cfg.Alert,
		lastByCall: make(map[string]time.Time),
		now:        time.Now,
	}, nil
}

// Record masks the entry's payload, stamps it, and appends it to the store.
// It returns the generated event ID. On write failure it retries a bounded
// number of times and, on exhaustion, fires the alert callback and returns
// the error. A lost audit write is never silent.
func (l *Logger) Record(ctx context.Context, entry Entry) (string, error) {
	event := l.build(entry)

	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(l.retryDelay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				l.alert(fmt.Errorf("audit write abandoned for %s: %w", event.EventType, lastErr))
				return "", lastErr
			}
		}
		if lastErr = l.store.Append(event); lastErr == nil {
			return event.EventID, nil
		}
		l.log.Warn("audit write failed",
			slog.String("event_type", event.EventType),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()))
	}

	err := fmt.Errorf("audit write lost after %d retries: %w", l.maxRetries, lastErr)
	l.alert(err)
	return "", err
}

func (l *Logger) build(entry Entry) Event {
	piiInvolved := entry.PIIInvolved
	details := make(map[string]string, len(entry.Details))
	for k, v := range entry.Details {
		if len(l.masker.Detect(v)) > 0 {
			piiInvolved = true
		}
		details[k] = l.masker.Mask(v)
	}

	result := entry.Result
	if result == "" {
		result = ResultSuccess
	}

	return Event{
		EventID:            uuid.NewString(),
		Timestamp:          l.stamp(entry.CallID),
		EventType:          entry.Type,
		CallID:             entry.CallID,
		SourceIP:           entry.SourceIP,
		Result:             result,
		ActionTaken:        entry.ActionTaken,
		PIIInvolved:        piiInvolved,
		DataClassification: classification(piiInvolved),
		ComplianceTags:     complianceTags(entry.Type, piiInvolved),
		RiskScore:          riskScore(entry.Type, result, piiInvolved),
		MaskRuleSet:        pii.RuleSetVersion,
		Details:            details,
	}
}

// stamp returns a timestamp never earlier than the previous event for the
// same call, so per-call event ordering survives clock adjustments.
func (l *Logger) stamp(callID string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now()
	if callID != "" {
		if last, ok := l.lastByCall[callID]; ok && ts.Before(last) {
			ts = last
		}
		l.lastByCall[callID] = ts
	}
	return ts
}

// ForgetCall releases ordering state for a finished call.
func (l *Logger) ForgetCall(callID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.lastByCall, callID)
}
