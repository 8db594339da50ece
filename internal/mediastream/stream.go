// Package mediastream terminates the provider's websocket media stream and
// bridges it onto a call session: inbound mu-law audio becomes utterance
// segments for the pipeline, outbound synthesized frames go back as media
// messages.
package mediastream

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/munivoice/munivoice-go/pkg/media"
	"github.com/munivoice/munivoice-go/pkg/session"
)

// maxSegmentFrames caps how much audio one utterance may buffer; at 20 ms
// per frame this is about a minute of speech.
const maxSegmentFrames = 3000

const writeTimeout = 10 * time.Second

// streamMessage is the provider's media stream envelope.
type streamMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *startPayload `json:"start,omitempty"`
	Media     *mediaPayload `json:"media,omitempty"`
	Stop      *stopPayload  `json:"stop,omitempty"`
}

type startPayload struct {
	StreamSID string `json:"streamSid"`
	CallSID   string `json:"callSid"`
}

type mediaPayload struct {
	Payload string `json:"payload"` // base64 mu-law audio
	// Last marks the end of an utterance; the provider's endpointing sets
	// it when the caller stops speaking.
	Last bool `json:"last,omitempty"`
}

type stopPayload struct {
	CallSID string `json:"callSid"`
}

// Handler upgrades media stream connections and drives their sessions.
type Handler struct {
	registry *session.Registry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a media stream handler over the session registry.
func NewHandler(registry *session.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			// The webhook that announced this stream was already signature
			// checked; the stream itself carries no browser origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles one media stream connection for its whole lifetime.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("media stream upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	h.serve(r.Context(), conn)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn) {
	var (
		sess      *session.Session
		streamSID string
		segment   []media.AudioFrame
		pumpDone  chan struct{}
	)
	logger := h.logger

	defer func() {
		if sess != nil {
			sess.Hangup()
		}
		// Give the pump a moment to flush queued audio; the output channel
		// itself only closes on teardown confirmation.
		if pumpDone != nil {
			select {
			case <-pumpDone:
			case <-time.After(2 * time.Second):
			}
		}
	}()

	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("media stream read failed", slog.String("error", err.Error()))
			}
			return
		}

		switch msg.Event {
		case "connected":
			// Stream handshake; the call binds on start.

		case "start":
			if msg.Start == nil || sess != nil {
				continue
			}
			found, ok := h.registry.Get(msg.Start.CallSID)
			if !ok {
				logger.Warn("media stream for unknown call",
					slog.String("call_sid", msg.Start.CallSID))
				return
			}
			sess = found
			streamSID = msg.Start.StreamSID
			logger = h.logger.With(slog.String("call_sid", sess.CallSID()))

			if err := sess.Answer(ctx); err != nil {
				logger.Error("answer failed", slog.String("error", err.Error()))
				return
			}
			pumpDone = make(chan struct{})
			go h.pump(sess, conn, streamSID, pumpDone)

		case "media":
			if msg.Media == nil || sess == nil {
				continue
			}
			if msg.Media.Payload != "" {
				raw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
				if err != nil {
					logger.Warn("bad media payload", slog.String("error", err.Error()))
					continue
				}
				if len(segment) < maxSegmentFrames {
					segment = append(segment, decodeMulaw(raw))
				}
			}
			if msg.Media.Last && len(segment) > 0 {
				utterance := segment
				segment = nil
				if err := sess.HandleAudio(ctx, utterance); err != nil &&
					!errors.Is(err, session.ErrInvalidState) &&
					!errors.Is(err, context.Canceled) {
					logger.Error("turn failed", slog.String("error", err.Error()))
				}
				if sess.State() != session.StateActive {
					// Provider failure or conversation end; let the pump
					// drain the remaining audio, then hang up.
					return
				}
			}

		case "stop":
			return

		default:
			// Marks and future message types are ignored.
		}
	}
}

// pump writes the session's synthesized audio back onto the stream until the
// session closes its output or the socket dies.
func (h *Handler) pump(sess *session.Session, conn *websocket.Conn, streamSID string, done chan struct{}) {
	defer close(done)

	for frame := range sess.AudioOut() {
		msg := streamMessage{
			Event:     "media",
			StreamSID: streamSID,
			Media: &mediaPayload{
				Payload: base64.StdEncoding.EncodeToString(encodeMulaw(frame)),
			},
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.Warn("media stream write failed",
				slog.String("call_sid", sess.CallSID()),
				slog.String("error", err.Error()))
			return
		}
	}
}
