package workers

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
)

// listener maintains one auto-reconnecting subscription to a worker's event
// stream. Backoff starts at ReconnectMin, doubles per failure up to
// ReconnectMax, and resets on a successful open. An application-level ping
// goes out every Keepalive interval.
type listener struct {
	nodeID   string
	wsURL    string
	timeouts Timeouts
	sink     func(interfaces.WorkerEvent)
	logger   arbor.ILogger

	mu       sync.Mutex
	conn     *websocket.Conn
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func newListener(nodeID, wsURL string, timeouts Timeouts, sink func(interfaces.WorkerEvent), logger arbor.ILogger) *listener {
	return &listener{
		nodeID:   nodeID,
		wsURL:    wsURL,
		timeouts: timeouts,
		sink:     sink,
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (l *listener) start() {
	go l.run()
}

func (l *listener) stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.mu.Lock()
	if l.conn != nil {
		l.conn.Close()
	}
	l.mu.Unlock()
	<-l.done
}

func (l *listener) run() {
	defer close(l.done)

	backoff := l.timeouts.ReconnectMin
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(l.wsURL, nil)
		if err != nil {
			l.logger.Debug().Err(err).Str("node", l.nodeID).Str("backoff", backoff.String()).Msg("Event stream connect failed; backing off")
			select {
			case <-time.After(backoff):
			case <-l.stopCh:
				return
			}
			backoff *= 2
			if backoff > l.timeouts.ReconnectMax {
				backoff = l.timeouts.ReconnectMax
			}
			continue
		}

		l.logger.Info().Str("node", l.nodeID).Msg("Event stream connected")
		backoff = l.timeouts.ReconnectMin

		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()

		stopKeepalive := l.startKeepalive(conn)
		l.readLoop(conn)
		close(stopKeepalive)
		conn.Close()

		select {
		case <-l.stopCh:
			return
		default:
			l.logger.Warn().Str("node", l.nodeID).Msg("Event stream disconnected; reconnecting")
		}
	}
}

func (l *listener) startKeepalive(conn *websocket.Conn) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(l.timeouts.Keepalive)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(l.timeouts.Probe)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-stop:
				return
			case <-l.stopCh:
				return
			}
		}
	}()
	return stop
}

// wireMessage is the upstream event envelope. Unknown types are discarded.
type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type progressData struct {
	JobID string `json:"prompt_id"`
	Value int    `json:"value"`
	Max   int    `json:"max"`
}

type executedData struct {
	JobID  string `json:"prompt_id"`
	Output struct {
		Images []struct {
			Filename string `json:"filename"`
		} `json:"images"`
	} `json:"output"`
}

type statusData struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
}

func (l *listener) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "progress":
			var d progressData
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				continue
			}
			l.sink(interfaces.WorkerEvent{
				Type:        interfaces.WorkerEventProgress,
				NodeID:      l.nodeID,
				WorkerJobID: d.JobID,
				Value:       d.Value,
				Max:         d.Max,
			})
		case "executed":
			var d executedData
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				continue
			}
			ev := interfaces.WorkerEvent{
				Type:        interfaces.WorkerEventExecuted,
				NodeID:      l.nodeID,
				WorkerJobID: d.JobID,
			}
			for _, img := range d.Output.Images {
				ev.Outputs = append(ev.Outputs, img.Filename)
			}
			l.sink(ev)
		case "status":
			var d statusData
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				continue
			}
			l.sink(interfaces.WorkerEvent{
				Type:           interfaces.WorkerEventStatus,
				NodeID:         l.nodeID,
				QueueRemaining: d.Status.ExecInfo.QueueRemaining,
			})
		default:
			// Heartbeats and unknown kinds are dropped.
		}
	}
}
