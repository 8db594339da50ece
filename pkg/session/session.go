// Package session implements the call session state machine and the
// process-wide registry of active calls. One Session owns a phone call from
// ring to hangup: audio in, transcription, masking, response generation,
// synthesis, audio out.
package session

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/munivoice/munivoice-go/pkg/ai"
	"github.com/munivoice/munivoice-go/pkg/ai/llm"
	"github.com/munivoice/munivoice-go/pkg/ai/stt"
	"github.com/munivoice/munivoice-go/pkg/ai/tts"
	"github.com/munivoice/munivoice-go/pkg/audit"
	"github.com/munivoice/munivoice-go/pkg/convo"
	"github.com/munivoice/munivoice-go/pkg/knowledge"
	"github.com/munivoice/munivoice-go/pkg/media"
	"github.com/munivoice/munivoice-go/pkg/pii"
)

// DefaultGreeting is played when the media stream is established.
const DefaultGreeting = "Hello! You've reached the utility district. " +
	"I can help with water service, billing, facilities, or general information. " +
	"How can I assist you today?"

// DefaultAfterHoursGreeting replaces the standard greeting outside staffed
// customer service hours.
const DefaultAfterHoursGreeting = "Hello! You've reached the utility district. " +
	"Our customer service team isn't available right now, but I'm here to help. " +
	"Customer service hours are Monday through Friday 8 AM to 6 PM, and Saturday 9 AM to 3 PM. " +
	"For water emergencies, crews are dispatched around the clock. " +
	"What can I help you with today?"

// fallbackMessage is spoken on unrecoverable provider failure before the
// call is handed to a human.
const fallbackMessage = "I'm sorry, I'm having trouble right now. " +
	"Please hold while I transfer you to a customer service representative."

// afterHoursFallback is the failure message when no staff is available to
// take a transfer.
const afterHoursFallback = "I'm sorry, I'm having trouble right now. " +
	"Customer service is currently closed; please call back during business hours, " +
	"or use the district's 24-hour emergency line for water emergencies."

const defaultSystemPrompt = "You are Casey, a friendly assistant for the municipal utility district. " +
	"Answer from the district knowledge provided. Keep replies under 30 words; this is a voice call. " +
	"Account identifiers in the conversation are redacted placeholders; never ask the caller to repeat them. " +
	"Say goodbye when the caller is done, and offer a transfer to customer service for account changes."

// afterHoursPromptNote is appended to the system prompt outside business
// hours, when no one is available to take a transfer.
const afterHoursPromptNote = " Customer service is currently closed; do not offer a transfer. " +
	"For account changes, ask the caller to call back during business hours."

var (
	activeSessions   = expvar.NewInt("munivoice_active_sessions")
	turnsProcessed   = expvar.NewInt("munivoice_turns_processed")
	providerFailures = expvar.NewMap("munivoice_provider_failures")
)

// Providers bundles the three capability interfaces a session drives.
type Providers struct {
	STT stt.STT
	LLM llm.LLM
	TTS tts.TTS
}

// Config holds everything needed to construct a Session.
type Config struct {
	CallSID   string
	Caller    string // caller number; masked before it is kept
	Providers Providers
	Knowledge knowledge.Base
	Context   *convo.Store
	Audit     *audit.Logger
	PII       *pii.Engine

	// Hours, when set, selects after-hours greeting and fallback behavior
	// based on Clock at call start. Nil treats every call as in-hours.
	Hours *knowledge.BusinessHours
	Clock func() time.Time

	Retry           ai.RetryConfig
	Logger          *slog.Logger
	Greeting        string
	SystemPrompt    string
	Voice           string
	MaxContextTurns int
	MaxReplyTokens  int
	OutputBuffer    int // audio frames buffered toward the media stream
}

// Session drives one call through Ringing → Active → Closing → Closed, with
// Error reachable from Ringing and Active. Steps within a session are
// strictly sequential; concurrency lives across sessions, not within one.
type Session struct {
	callSID      string
	callerMasked string
	createdAt    time.Time

	state        atomic.Int32
	lastActivity atomic.Int64
	turnCount    atomic.Int32
	piiFindings  atomic.Int32

	sttProvider stt.STT
	llmProvider llm.LLM
	ttsProvider tts.TTS
	kb          knowledge.Base
	history     *convo.Store
	auditor     *audit.Logger
	masker      *pii.Engine

	retry           ai.RetryConfig
	logger          *slog.Logger
	greeting        string
	systemPrompt    string
	voice           string
	maxContextTurns int
	maxReplyTokens  int
	afterHours      bool

	ctx    context.Context
	cancel context.CancelFunc

	turnMu   sync.Mutex
	audioOut chan media.AudioFrame
	outOnce  sync.Once
}

// New creates a Session in the Ringing state.
func New(cfg Config) (*Session, error) {
	if cfg.CallSID == "" {
		return nil, fmt.Errorf("call SID is required")
	}
	if cfg.Providers.STT == nil {
		return nil, fmt.Errorf("STT provider is required")
	}
	if cfg.Providers.LLM == nil {
		return nil, fmt.Errorf("LLM provider is required")
	}
	if cfg.Providers.TTS == nil {
		return nil, fmt.Errorf("TTS provider is required")
	}
	if cfg.Knowledge == nil {
		return nil, fmt.Errorf("knowledge base is required")
	}
	if cfg.Context == nil {
		return nil, fmt.Errorf("context store is required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("audit logger is required")
	}
	if cfg.PII == nil {
		return nil, fmt.Errorf("PII engine is required")
	}

	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = ai.DefaultRetryConfig
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	// Hours are evaluated once, when the call arrives.
	afterHours := cfg.Hours != nil && !cfg.Hours.Open(cfg.Clock())
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
		if afterHours {
			cfg.Greeting = DefaultAfterHoursGreeting
		}
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
		if afterHours {
			cfg.SystemPrompt += afterHoursPromptNote
		}
	}
	if cfg.MaxContextTurns <= 0 {
		cfg.MaxContextTurns = 8
	}
	if cfg.MaxReplyTokens <= 0 {
		cfg.MaxReplyTokens = 60
	}
	if cfg.OutputBuffer <= 0 {
		cfg.OutputBuffer = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		callSID:         cfg.CallSID,
		callerMasked:    cfg.PII.Mask(cfg.Caller),
		createdAt:       time.Now(),
		sttProvider:     cfg.Providers.STT,
		llmProvider:     cfg.Providers.LLM,
		ttsProvider:     cfg.Providers.TTS,
		kb:              cfg.Knowledge,
		history:         cfg.Context,
		auditor:         cfg.Audit,
		masker:          cfg.PII,
		retry:           cfg.Retry,
		logger:          cfg.Logger.With(slog.String("call_sid", cfg.CallSID)),
		greeting:        cfg.Greeting,
		systemPrompt:    cfg.SystemPrompt,
		voice:           cfg.Voice,
		maxContextTurns: cfg.MaxContextTurns,
		maxReplyTokens:  cfg.MaxReplyTokens,
		afterHours:      afterHours,
		ctx:             ctx,
		cancel:          cancel,
		audioOut:        make(chan media.AudioFrame, cfg.OutputBuffer),
	}
	s.state.Store(int32(StateRinging))
	s.touch()
	return s, nil
}

// CallSID returns the provider-assigned call identifier.
func (s *Session) CallSID() string { return s.callSID }

// Caller returns the masked caller number. The unmasked number is never kept.
func (s *Session) Caller() string { return s.callerMasked }

// State returns the current session state.
func (s *Session) State() State { return State(s.state.Load()) }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActivity returns the time of the last processed event.
func (s *Session) LastActivity() time.Time { return time.Unix(0, s.lastActivity.Load()) }

// AudioOut is the stream of synthesized frames for the media transport.
// It closes when the session reaches Closed.
func (s *Session) AudioOut() <-chan media.AudioFrame { return s.audioOut }

// Answer moves Ringing → Active once the provider confirms the media stream,
// and queues the greeting for playback.
func (s *Session) Answer(ctx context.Context) error {
	if err := s.transition(StateRinging, StateActive); err != nil {
		s.recordViolation(ctx, "answer")
		return err
	}
	activeSessions.Add(1)
	s.touch()

	s.recordAudit(ctx, audit.Entry{
		Type:        audit.EventCallStarted,
		CallID:      s.callSID,
		ActionTaken: "ANSWERED",
		Details:     map[string]string{"caller": s.callerMasked},
	})

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	opCtx, done := s.opContext(ctx)
	defer done()
	if err := s.speak(opCtx, s.greeting); err != nil {
		return s.failCall(ctx, "tts", err)
	}
	return nil
}

// HandleAudio processes one caller utterance: transcribe, mask, generate,
// synthesize, stream back. The pipeline is strictly sequential; each step
// depends on the previous one's output.
func (s *Session) HandleAudio(ctx context.Context, segment []media.AudioFrame) error {
	if s.State() != StateActive {
		s.recordViolation(ctx, "audio")
		return ErrInvalidState
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	if s.State() != StateActive {
		return ErrInvalidState
	}
	s.touch()

	opCtx, done := s.opContext(ctx)
	defer done()

	// Transcribe.
	var result stt.Result
	err := ai.Retry(opCtx, s.retry, s.logger, "stt.recognize", func(c context.Context) error {
		var e error
		result, e = s.sttProvider.Recognize(c, segment, stt.Config{
			SampleRate:  media.DefaultSampleRate,
			NumChannels: media.DefaultNumChannels,
			Lang:        "en-US",
		})
		return e
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return s.failCall(ctx, "stt", err)
	}

	// Mask before the transcript is stored or forwarded anywhere.
	findings := s.masker.Detect(result.Text)
	masked := s.masker.Mask(result.Text)
	s.piiFindings.Add(int32(len(findings)))

	s.history.Append(s.callSID, convo.Turn{
		Speaker:   convo.SpeakerCaller,
		Text:      masked,
		Timestamp: time.Now(),
	})

	// Knowledge lookup failures degrade to an answer without snippets.
	snippets, kbErr := s.kb.Lookup(opCtx, masked, 3)
	if kbErr != nil {
		s.logger.Warn("knowledge lookup failed", slog.String("error", kbErr.Error()))
		snippets = nil
	}

	// Generate.
	var resp llm.ChatResponse
	err = ai.Retry(opCtx, s.retry, s.logger, "llm.chat", func(c context.Context) error {
		var e error
		resp, e = s.llmProvider.Chat(c, s.chatRequest(snippets))
		return e
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return s.failCall(ctx, "llm", err)
	}
	reply := resp.Message.Content

	// Synthesize and stream. The clear reply is spoken; only the masked copy
	// is ever stored.
	if err := s.speak(opCtx, reply); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return s.failCall(ctx, "tts", err)
	}

	refs := make([]string, len(snippets))
	for i, sn := range snippets {
		refs[i] = sn.Ref
	}
	maskedReply := s.masker.Mask(reply)
	s.history.Append(s.callSID, convo.Turn{
		Speaker:     convo.SpeakerAssistant,
		Text:        maskedReply,
		Timestamp:   time.Now(),
		SnippetRefs: refs,
	})

	s.turnCount.Add(1)
	turnsProcessed.Add(1)
	s.recordAudit(ctx, audit.Entry{
		Type:        audit.EventTurnProcessed,
		CallID:      s.callSID,
		PIIInvolved: len(findings) > 0,
		Details: map[string]string{
			"transcript": masked,
			"reply":      maskedReply,
		},
	})

	if endOfCallIntent(reply) {
		return s.BeginClosing("conversation concluded")
	}
	return nil
}

// BeginClosing moves the session toward teardown without cancelling
// in-flight audio: outstanding frames still drain to the caller.
func (s *Session) BeginClosing(reason string) error {
	for _, from := range []State{StateActive, StateRinging, StateError} {
		if s.transition(from, StateClosing) == nil {
			s.logger.Info("session closing", slog.String("reason", reason))
			return nil
		}
	}
	return ErrInvalidState
}

// Hangup handles the caller's hangup signal: any in-progress provider call
// is cancelled immediately and the session moves to Closing.
func (s *Session) Hangup() {
	s.cancel()
	_ = s.BeginClosing("caller hangup")
}

// ConfirmTeardown moves Closing → Closed once the provider confirms media
// teardown. It emits the final call summary audit event and releases the
// session's resources. Closed is terminal.
func (s *Session) ConfirmTeardown(ctx context.Context) error {
	if err := s.transition(StateClosing, StateClosed); err != nil {
		s.recordViolation(ctx, "teardown")
		return err
	}
	activeSessions.Add(-1)
	s.cancel()

	s.turnMu.Lock()
	s.outOnce.Do(func() { close(s.audioOut) })
	s.turnMu.Unlock()

	s.recordAudit(ctx, audit.Entry{
		Type:        audit.EventCallEnded,
		CallID:      s.callSID,
		ActionTaken: "CLOSED",
		Details: map[string]string{
			"duration_ms":  strconv.FormatInt(time.Since(s.createdAt).Milliseconds(), 10),
			"turn_count":   strconv.Itoa(int(s.turnCount.Load())),
			"pii_findings": strconv.Itoa(int(s.piiFindings.Load())),
		},
	})

	s.history.Drop(s.callSID)
	s.auditor.ForgetCall(s.callSID)
	return nil
}

func (s *Session) transition(from, to State) error {
	if !canTransition(from, to) {
		return ErrInvalidState
	}
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return ErrInvalidState
	}
	s.logger.Info("session state change",
		slog.String("from", from.String()),
		slog.String("to", to.String()))
	return nil
}

// failCall handles retry exhaustion on any provider: audit the failure,
// queue a best-effort fallback message, and move Error → Closing.
func (s *Session) failCall(ctx context.Context, stage string, cause error) error {
	providerFailures.Add(stage, 1)
	s.logger.Error("provider failure, escalating session",
		slog.String("stage", stage),
		slog.String("error", cause.Error()))

	toError := false
	for _, from := range []State{StateActive, StateRinging} {
		if s.transition(from, StateError) == nil {
			toError = true
			break
		}
	}

	s.recordAudit(ctx, audit.Entry{
		Type:        audit.EventProviderFailure,
		CallID:      s.callSID,
		Result:      audit.ResultFailure,
		ActionTaken: "FALLBACK_MESSAGE",
		Details: map[string]string{
			"stage": stage,
			"error": cause.Error(),
		},
	})

	if toError {
		// Single attempt: if synthesis itself is down there is nothing more
		// to say to the caller.
		if stage != "tts" {
			s.queueFallback()
		}
		_ = s.transition(StateError, StateClosing)
	}
	return cause
}

func (s *Session) queueFallback() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	text := fallbackMessage
	if s.afterHours {
		text = afterHoursFallback
	}
	frames, err := s.ttsProvider.Synthesize(ctx, tts.SynthesizeRequest{
		Text:     text,
		Voice:    s.voice,
		Language: "en-US",
	})
	if err != nil {
		s.logger.Warn("fallback synthesis failed", slog.String("error", err.Error()))
		return
	}
	for frame := range frames {
		select {
		case s.audioOut <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// speak synthesizes text and queues the frames for the media stream. The
// whole synthesis runs inside the retry's attempt budget.
func (s *Session) speak(ctx context.Context, text string) error {
	return ai.Retry(ctx, s.retry, s.logger, "tts.synthesize", func(c context.Context) error {
		frames, err := s.ttsProvider.Synthesize(c, tts.SynthesizeRequest{
			Text:     text,
			Voice:    s.voice,
			Language: "en-US",
		})
		if err != nil {
			return err
		}
		for frame := range frames {
			select {
			case s.audioOut <- frame:
			case <-c.Done():
				return c.Err()
			}
		}
		return nil
	})
}

// chatRequest builds the LLM request from the system prompt, knowledge
// snippets, and the masked recent history. The model only ever sees masked
// text.
func (s *Session) chatRequest(snippets []knowledge.Snippet) llm.ChatRequest {
	prompt := s.systemPrompt
	if len(snippets) > 0 {
		var b strings.Builder
		b.WriteString(prompt)
		b.WriteString("\n\nDistrict knowledge:")
		for _, sn := range snippets {
			b.WriteString("\n- ")
			b.WriteString(sn.Text)
		}
		prompt = b.String()
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: prompt}}
	for _, turn := range s.history.Recent(s.callSID, s.maxContextTurns) {
		role := llm.RoleUser
		if turn.Speaker == convo.SpeakerAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}

	return llm.ChatRequest{
		Messages:    messages,
		MaxTokens:   s.maxReplyTokens,
		Temperature: 0.3,
	}
}

// opContext derives a context cancelled by either the caller's context or
// the session's own lifecycle, so a hangup aborts in-flight provider work.
func (s *Session) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}

func (s *Session) recordViolation(ctx context.Context, event string) {
	s.recordAudit(ctx, audit.Entry{
		Type:        audit.EventStateViolation,
		CallID:      s.callSID,
		Result:      audit.ResultFailure,
		ActionTaken: "DISCARDED",
		Details: map[string]string{
			"event": event,
			"state": s.State().String(),
		},
	})
}

// recordAudit never lets an audit problem break call handling; loss is
// already escalated through the audit logger's alert path.
func (s *Session) recordAudit(ctx context.Context, entry audit.Entry) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if _, err := s.auditor.Record(ctx, entry); err != nil {
		s.logger.Error("audit record failed", slog.String("error", err.Error()))
	}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// endOfCallIntent reports whether the assistant's reply concludes the call.
func endOfCallIntent(reply string) bool {
	lower := strings.ToLower(reply)
	for _, marker := range []string{
		"goodbye",
		"thanks for calling",
		"thank you for calling",
		"transferring you",
		"transfer you to",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
