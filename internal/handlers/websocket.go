package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/easel/internal/common"
	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const (
	streamWriteTimeout = 10 * time.Second
	streamPingEvery    = 30 * time.Second
)

// StreamHandler bridges the per-session event feed onto a downstream
// WebSocket connection. Progress events are throttled per connection;
// terminal events always go through.
type StreamHandler struct {
	aggregator       interfaces.AggregatorService
	iteration        interfaces.IterationService
	progressInterval time.Duration
	logger           arbor.ILogger
}

func NewStreamHandler(aggregator interfaces.AggregatorService, iteration interfaces.IterationService, config *common.WebSocketConfig, logger arbor.ILogger) *StreamHandler {
	h := &StreamHandler{
		aggregator: aggregator,
		iteration:  iteration,
		logger:     logger,
	}
	if config != nil {
		if intervalStr, ok := config.ThrottleIntervals["progress"]; ok {
			if duration, err := time.ParseDuration(intervalStr); err == nil {
				h.progressInterval = duration
			} else {
				logger.Warn().Err(err).Str("interval", intervalStr).Msg("Failed to parse progress throttle interval - throttling disabled")
			}
		}
	}
	return h
}

// HandleSession upgrades GET /ws/session/{id} and streams session events
// until the client disconnects.
func (h *StreamHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/session/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("WebSocket upgrade failed")
		return
	}

	sub := h.aggregator.Subscribe(sessionID)
	h.logger.Debug().Str("session_id", sessionID).Str("remote", r.RemoteAddr).Msg("Session stream opened")

	done := make(chan struct{})

	// Reader only detects client close; no inbound messages are expected.
	common.SafeGo(h.logger, "session-stream-reader-"+sessionID, func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	common.SafeGo(h.logger, "session-stream-writer-"+sessionID, func() {
		defer func() {
			h.aggregator.Unsubscribe(sessionID, sub)
			sub.Close()
			conn.Close()
			h.logger.Debug().Str("session_id", sessionID).Msg("Session stream closed")
		}()

		var throttler *rate.Limiter
		if h.progressInterval > 0 {
			throttler = rate.NewLimiter(rate.Every(h.progressInterval), 1)
		}

		ping := time.NewTicker(streamPingEvery)
		defer ping.Stop()

		for {
			select {
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				if event.Type == models.EventProgress && throttler != nil && !throttler.Allow() {
					continue
				}
				if event.Type == models.EventBatchComplete {
					// The review stage opens once the batch is observed
					// complete; duplicates are ignored downstream.
					if err := h.iteration.OnBatchComplete(context.Background(), sessionID); err != nil {
						h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to advance session to reviewing")
					}
				}
				conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			case <-ping.C:
				deadline := time.Now().Add(streamWriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
}
