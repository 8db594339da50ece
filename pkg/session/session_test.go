package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/munivoice/munivoice-go/pkg/ai"
	llmfake "github.com/munivoice/munivoice-go/pkg/ai/llm/fake"
	sttfake "github.com/munivoice/munivoice-go/pkg/ai/stt/fake"
	ttsfake "github.com/munivoice/munivoice-go/pkg/ai/tts/fake"
	"github.com/munivoice/munivoice-go/pkg/audit"
	"github.com/munivoice/munivoice-go/pkg/convo"
	"github.com/munivoice/munivoice-go/pkg/knowledge"
	"github.com/munivoice/munivoice-go/pkg/media"
	"github.com/munivoice/munivoice-go/pkg/pii"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() ai.RetryConfig {
	return ai.RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2.0,
		AttemptBudget: time.Second,
	}
}

type testEnv struct {
	stt   *sttfake.FakeSTT
	llm   *llmfake.FakeLLM
	tts   *ttsfake.FakeTTS
	store *audit.MemoryStore
	sess  *Session
}

func newTestEnv(t *testing.T, transcripts, responses []string) *testEnv {
	t.Helper()
	is := is.New(t)

	engine := pii.New()
	store := audit.NewMemoryStore()
	auditor, err := audit.New(audit.Config{
		Store:  store,
		Masker: engine,
		Logger: discardLogger(),
	})
	is.NoErr(err)

	env := &testEnv{
		stt:   sttfake.NewFakeSTT(transcripts...),
		llm:   llmfake.NewFakeLLM(responses...),
		tts:   ttsfake.NewFakeTTS(3),
		store: store,
	}
	env.sess, err = New(Config{
		CallSID:   "CA1234567890abcdef",
		Caller:    "+15125551234",
		Providers: Providers{STT: env.stt, LLM: env.llm, TTS: env.tts},
		Knowledge: knowledge.NewDistrictBase(),
		Context:   convo.NewStore(0),
		Audit:     auditor,
		PII:       engine,
		Retry:     fastRetry(),
		Logger:    discardLogger(),
	})
	is.NoErr(err)
	return env
}

// newHoursEnv builds a session with the district schedule and a clock frozen
// at the given instant.
func newHoursEnv(t *testing.T, at time.Time, transcripts, responses []string) *testEnv {
	t.Helper()
	is := is.New(t)

	engine := pii.New()
	store := audit.NewMemoryStore()
	auditor, err := audit.New(audit.Config{
		Store:  store,
		Masker: engine,
		Logger: discardLogger(),
	})
	is.NoErr(err)

	env := &testEnv{
		stt:   sttfake.NewFakeSTT(transcripts...),
		llm:   llmfake.NewFakeLLM(responses...),
		tts:   ttsfake.NewFakeTTS(3),
		store: store,
	}
	env.sess, err = New(Config{
		CallSID:   "CA1234567890abcdef",
		Caller:    "+15125551234",
		Providers: Providers{STT: env.stt, LLM: env.llm, TTS: env.tts},
		Knowledge: knowledge.NewDistrictBase(),
		Context:   convo.NewStore(0),
		Audit:     auditor,
		PII:       engine,
		Hours:     knowledge.DistrictHours(),
		Clock:     func() time.Time { return at },
		Retry:     fastRetry(),
		Logger:    discardLogger(),
	})
	is.NoErr(err)
	return env
}

func segment() []media.AudioFrame {
	return []media.AudioFrame{{
		Data:        make([]byte, 320),
		SampleRate:  media.DefaultSampleRate,
		NumChannels: media.DefaultNumChannels,
	}}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestAnswerQueuesGreeting(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t, nil, nil)

	is.Equal(env.sess.State(), StateRinging)
	is.NoErr(env.sess.Answer(context.Background()))
	is.Equal(env.sess.State(), StateActive)

	spoken := env.tts.Spoken()
	is.Equal(len(spoken), 1)
	is.Equal(spoken[0], DefaultGreeting)
	is.True(len(env.sess.AudioOut()) > 0) // greeting frames queued

	started := env.store.ByType(audit.EventCallStarted)
	is.Equal(len(started), 1)
	is.Equal(started[0].CallID, "CA1234567890abcdef")
	is.Equal(started[0].Details["caller"], "[phone-redacted]")
}

func TestAnswerGreetingDuringBusinessHours(t *testing.T) {
	is := is.New(t)
	wednesdayMorning := time.Date(2026, time.September, 2, 10, 0, 0, 0, time.UTC)
	env := newHoursEnv(t, wednesdayMorning, nil, nil)

	is.NoErr(env.sess.Answer(context.Background()))
	is.Equal(env.tts.Spoken()[0], DefaultGreeting)
}

func TestAnswerGreetingAfterHours(t *testing.T) {
	is := is.New(t)
	sundayNoon := time.Date(2026, time.September, 6, 12, 0, 0, 0, time.UTC)
	env := newHoursEnv(t, sundayNoon, nil, nil)

	is.NoErr(env.sess.Answer(context.Background()))
	spoken := env.tts.Spoken()
	is.Equal(len(spoken), 1)
	is.Equal(spoken[0], DefaultAfterHoursGreeting)
	is.True(strings.Contains(spoken[0], "customer service team isn't available"))
}

func TestAfterHoursFallbackOffersNoTransfer(t *testing.T) {
	is := is.New(t)
	sundayNoon := time.Date(2026, time.September, 6, 12, 0, 0, 0, time.UTC)
	env := newHoursEnv(t, sundayNoon, []string{"when is my bill due"}, nil)

	is.NoErr(env.sess.Answer(context.Background()))
	env.llm.FailNext(10)

	err := env.sess.HandleAudio(context.Background(), segment())
	is.True(err != nil)
	is.Equal(env.sess.State(), StateClosing)

	// No staff to transfer to: the failure message points at the emergency
	// line and business hours instead.
	spoken := env.tts.Spoken()
	is.Equal(len(spoken), 2)
	is.True(!strings.Contains(strings.ToLower(spoken[1]), "transfer"))
	is.True(strings.Contains(spoken[1], "emergency"))
}

func TestAnswerTwiceIsViolation(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t, nil, nil)

	is.NoErr(env.sess.Answer(context.Background()))
	err := env.sess.Answer(context.Background())
	is.True(errors.Is(err, ErrInvalidState))
	is.Equal(env.sess.State(), StateActive) // state unchanged

	violations := env.store.ByType(audit.EventStateViolation)
	is.Equal(len(violations), 1)
	is.Equal(violations[0].Result, audit.ResultFailure)
}

func TestTurnMasksPIIEverywhere(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t,
		[]string{"My account number is 12345678 and my phone is (512) 555-1234."},
		[]string{"I can look that up for you. Your base water rate is twenty dollars."},
	)

	is.NoErr(env.sess.Answer(context.Background()))
	is.NoErr(env.sess.HandleAudio(context.Background(), segment()))

	// The model never sees the raw identifiers.
	reqs := env.llm.Requests()
	is.Equal(len(reqs), 1)
	var sawMasked bool
	for _, msg := range reqs[0].Messages {
		is.True(!strings.Contains(msg.Content, "12345678"))
		is.True(!strings.Contains(msg.Content, "(512) 555-1234"))
		if strings.Contains(msg.Content, "[account-number-redacted]") &&
			strings.Contains(msg.Content, "[phone-redacted]") {
			sawMasked = true
		}
	}
	is.True(sawMasked)

	// The audit trail only holds the masked transcript.
	turns := env.store.ByType(audit.EventTurnProcessed)
	is.Equal(len(turns), 1)
	is.True(turns[0].PIIInvolved)
	is.True(!strings.Contains(turns[0].Details["transcript"], "12345678"))
	is.True(strings.Contains(turns[0].Details["transcript"], "[account-number-redacted]"))
}

func TestProviderFailureEscalates(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t, []string{"hello"}, nil)
	env.stt.FailNext(10) // more than the retry budget

	is.NoErr(env.sess.Answer(context.Background()))
	err := env.sess.HandleAudio(context.Background(), segment())
	is.True(err != nil)
	is.True(errors.Is(err, ai.ErrRecoverable))
	is.Equal(env.sess.State(), StateClosing)

	// Caller heard the fallback before the transfer.
	spoken := env.tts.Spoken()
	is.Equal(len(spoken), 2) // greeting, then fallback
	is.True(strings.Contains(spoken[1], "transfer"))

	failures := env.store.ByType(audit.EventProviderFailure)
	is.Equal(len(failures), 1)
	is.Equal(failures[0].Result, audit.ResultFailure)
	is.Equal(failures[0].Details["stage"], "stt")
}

func TestRecoverableFailureRetriesThenSucceeds(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t, []string{"what are the water rates"}, []string{"Twenty dollars base."})
	env.stt.FailNext(2) // within the retry budget

	is.NoErr(env.sess.Answer(context.Background()))
	is.NoErr(env.sess.HandleAudio(context.Background(), segment()))
	is.Equal(env.sess.State(), StateActive)
	is.Equal(env.stt.Calls(), 3) // two failures plus the success
}

func TestEndOfCallIntentBeginsClosing(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t,
		[]string{"that is all I needed, thanks"},
		[]string{"You're welcome. Thanks for calling, goodbye!"},
	)

	is.NoErr(env.sess.Answer(context.Background()))
	is.NoErr(env.sess.HandleAudio(context.Background(), segment()))
	is.Equal(env.sess.State(), StateClosing)
}

func TestAudioBeforeAnswerIsDiscarded(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t, nil, nil)

	err := env.sess.HandleAudio(context.Background(), segment())
	is.True(errors.Is(err, ErrInvalidState))
	is.Equal(env.stt.Calls(), 0) // nothing reached the pipeline
	is.Equal(len(env.store.ByType(audit.EventStateViolation)), 1)
}

func TestClosedIsTerminal(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t, []string{"hi"}, []string{"Hello!"})
	ctx := context.Background()

	is.NoErr(env.sess.Answer(ctx))
	is.NoErr(env.sess.HandleAudio(ctx, segment()))
	env.sess.Hangup()
	is.Equal(env.sess.State(), StateClosing)
	is.NoErr(env.sess.ConfirmTeardown(ctx))
	is.Equal(env.sess.State(), StateClosed)

	// No event moves a closed session.
	is.True(errors.Is(env.sess.HandleAudio(ctx, segment()), ErrInvalidState))
	is.True(errors.Is(env.sess.ConfirmTeardown(ctx), ErrInvalidState))
	is.Equal(env.sess.State(), StateClosed)

	// Output channel is closed so the media pump can drain and exit.
	for range env.sess.AudioOut() {
	}

	ended := env.store.ByType(audit.EventCallEnded)
	is.Equal(len(ended), 1)
	is.Equal(ended[0].Details["turn_count"], "1")
}

func TestHangupCancelsInFlightWork(t *testing.T) {
	is := is.New(t)
	env := newTestEnv(t, nil, nil)

	is.NoErr(env.sess.Answer(context.Background()))
	env.sess.Hangup()
	is.Equal(env.sess.State(), StateClosing)

	err := env.sess.HandleAudio(context.Background(), segment())
	is.True(errors.Is(err, ErrInvalidState))
}
