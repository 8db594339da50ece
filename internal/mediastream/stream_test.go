package mediastream

import (
	"encoding/base64"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"

	"github.com/munivoice/munivoice-go/pkg/ai"
	llmfake "github.com/munivoice/munivoice-go/pkg/ai/llm/fake"
	sttfake "github.com/munivoice/munivoice-go/pkg/ai/stt/fake"
	ttsfake "github.com/munivoice/munivoice-go/pkg/ai/tts/fake"
	"github.com/munivoice/munivoice-go/pkg/audit"
	"github.com/munivoice/munivoice-go/pkg/convo"
	"github.com/munivoice/munivoice-go/pkg/knowledge"
	"github.com/munivoice/munivoice-go/pkg/pii"
	"github.com/munivoice/munivoice-go/pkg/session"
)

type streamEnv struct {
	registry *session.Registry
	llm      *llmfake.FakeLLM
	tts      *ttsfake.FakeTTS
	conn     *websocket.Conn
}

func newStreamEnv(t *testing.T, transcript string) *streamEnv {
	t.Helper()
	is := is.New(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := pii.New()
	auditor, err := audit.New(audit.Config{
		Store:  audit.NewMemoryStore(),
		Masker: engine,
		Logger: logger,
	})
	is.NoErr(err)

	env := &streamEnv{
		registry: session.NewRegistry(time.Minute, logger),
		llm:      llmfake.NewFakeLLM("The base water rate is twenty dollars a month."),
		tts:      ttsfake.NewFakeTTS(2),
	}
	t.Cleanup(func() { env.registry.Close(t.Context()) })

	_, err = env.registry.Create(session.Config{
		CallSID: "CA001",
		Caller:  "+15125550142",
		Providers: session.Providers{
			STT: sttfake.NewFakeSTT(transcript),
			LLM: env.llm,
			TTS: env.tts,
		},
		Knowledge: knowledge.NewDistrictBase(),
		Context:   convo.NewStore(0),
		Audit:     auditor,
		PII:       engine,
		Retry: ai.RetryConfig{
			MaxRetries:    1,
			InitialDelay:  time.Millisecond,
			MaxDelay:      time.Millisecond,
			BackoffFactor: 1,
			AttemptBudget: time.Second,
		},
		Logger: logger,
	})
	is.NoErr(err)

	srv := httptest.NewServer(NewHandler(env.registry, logger))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	is.NoErr(err)
	t.Cleanup(func() { conn.Close() })
	env.conn = conn
	return env
}

// readMedia reads stream messages until count media payloads arrived.
func readMedia(t *testing.T, conn *websocket.Conn, count int) []streamMessage {
	t.Helper()
	var got []streamMessage
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for len(got) < count {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("reading media messages: %v (got %d of %d)", err, len(got), count)
		}
		if msg.Event == "media" && msg.Media != nil {
			got = append(got, msg)
		}
	}
	return got
}

func mulawSilence(n int) string {
	payload := make([]byte, n)
	for i := range payload {
		payload[i] = 0xFF
	}
	return base64.StdEncoding.EncodeToString(payload)
}

func TestStreamPlaysGreetingOnStart(t *testing.T) {
	is := is.New(t)
	env := newStreamEnv(t, "hello")

	is.NoErr(env.conn.WriteJSON(streamMessage{Event: "connected"}))
	is.NoErr(env.conn.WriteJSON(streamMessage{
		Event: "start",
		Start: &startPayload{StreamSID: "MZ001", CallSID: "CA001"},
	}))

	// FakeTTS emits two frames per request.
	frames := readMedia(t, env.conn, 2)
	is.Equal(frames[0].StreamSID, "MZ001")
	is.True(frames[0].Media.Payload != "")

	spoken := env.tts.Spoken()
	is.Equal(len(spoken), 1)
	is.Equal(spoken[0], session.DefaultGreeting)
}

func TestStreamRunsTurnOnUtteranceEnd(t *testing.T) {
	is := is.New(t)
	env := newStreamEnv(t, "what do you charge for water")

	is.NoErr(env.conn.WriteJSON(streamMessage{
		Event: "start",
		Start: &startPayload{StreamSID: "MZ001", CallSID: "CA001"},
	}))
	readMedia(t, env.conn, 2) // greeting

	// Two media chunks, the second ending the utterance.
	is.NoErr(env.conn.WriteJSON(streamMessage{
		Event: "media",
		Media: &mediaPayload{Payload: mulawSilence(160)},
	}))
	is.NoErr(env.conn.WriteJSON(streamMessage{
		Event: "media",
		Media: &mediaPayload{Payload: mulawSilence(160), Last: true},
	}))

	readMedia(t, env.conn, 2) // reply audio

	reqs := env.llm.Requests()
	is.Equal(len(reqs), 1)
	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	is.Equal(last.Content, "what do you charge for water")

	spoken := env.tts.Spoken()
	is.Equal(len(spoken), 2)
	is.Equal(spoken[1], "The base water rate is twenty dollars a month.")
}

func TestStreamForUnknownCallCloses(t *testing.T) {
	is := is.New(t)
	env := newStreamEnv(t, "hello")

	is.NoErr(env.conn.WriteJSON(streamMessage{
		Event: "start",
		Start: &startPayload{StreamSID: "MZ001", CallSID: "CA404"},
	}))

	env.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg streamMessage
	err := env.conn.ReadJSON(&msg)
	is.True(err != nil) // server closed the stream
}

func TestStreamHangsUpSessionOnStop(t *testing.T) {
	is := is.New(t)
	env := newStreamEnv(t, "hello")

	is.NoErr(env.conn.WriteJSON(streamMessage{
		Event: "start",
		Start: &startPayload{StreamSID: "MZ001", CallSID: "CA001"},
	}))
	readMedia(t, env.conn, 2)
	is.NoErr(env.conn.WriteJSON(streamMessage{
		Event: "stop",
		Stop:  &stopPayload{CallSID: "CA001"},
	}))

	sess, ok := env.registry.Get("CA001")
	is.True(ok)

	deadline := time.Now().Add(2 * time.Second)
	for sess.State() != session.StateClosing {
		if time.Now().After(deadline) {
			t.Fatalf("session state %v, want closing", sess.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
