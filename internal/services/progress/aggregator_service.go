package progress

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/easel/internal/interfaces"
	"github.com/ternarybob/easel/internal/models"
)

// subscriber is one downstream consumer. Events are staged in a deque and
// moved to the outbound channel by a dedicated pump goroutine; overflow
// policy lives in deliver.
type subscriber struct {
	mu     sync.Mutex
	queue  []models.Event
	limit  int
	notify chan struct{}
	out    chan models.Event
	done   chan struct{}
	closed bool
}

func newSubscriber(limit int) *subscriber {
	s := &subscriber{
		limit:  limit,
		notify: make(chan struct{}, 1),
		out:    make(chan models.Event),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *subscriber) Events() <-chan models.Event {
	return s.out
}

// Close marks the subscriber dead and stops its pump. Safe to call more
// than once.
func (s *subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

// deliver stages one event without blocking. A full deque sheds progress
// first: the oldest staged progress event is displaced, and an incoming
// progress update is dropped when only terminal events remain staged.
// Terminal events are always staged, growing the deque past its limit when
// they must. Returns false when the subscriber is dead.
func (s *subscriber) deliver(event models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	if len(s.queue) >= s.limit {
		if i := s.oldestDroppable(); i >= 0 {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
		} else if !event.Type.Critical() {
			return true
		}
	}
	s.queue = append(s.queue, event)

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// oldestDroppable returns the index of the oldest staged progress event, or
// -1 when every staged event is terminal and must survive.
func (s *subscriber) oldestDroppable() int {
	for i, ev := range s.queue {
		if !ev.Type.Critical() {
			return i
		}
	}
	return -1
}

// pump moves staged events to the outbound channel in order and closes it
// once the subscriber is closed.
func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var next models.Event
		staged := len(s.queue) > 0
		if staged {
			next = s.queue[0]
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()

		if staged {
			select {
			case s.out <- next:
			case <-s.done:
				return
			}
			continue
		}
		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}

type correlation struct {
	generationID string
	sessionID    string
}

// Service is the single fan-in point for worker events and the fan-out point
// for session subscriptions. Each worker client feeds events from one
// goroutine, so per-generation ordering is preserved end to end.
type Service struct {
	registry   interfaces.RegistryService
	bufferSize int
	logger     arbor.ILogger

	mu           sync.RWMutex
	correlations map[string]correlation
	subscribers  map[string]map[*subscriber]struct{}
}

// NewService creates an aggregator. registry may be nil; when set, worker
// queue-depth reports are folded back into it.
func NewService(registry interfaces.RegistryService, bufferSize int, logger arbor.ILogger) interfaces.AggregatorService {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Service{
		registry:     registry,
		bufferSize:   bufferSize,
		logger:       logger,
		correlations: make(map[string]correlation),
		subscribers:  make(map[string]map[*subscriber]struct{}),
	}
}

// Register inserts a correlation at dispatch time.
func (s *Service) Register(workerJobID, generationID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correlations[workerJobID] = correlation{generationID: generationID, sessionID: sessionID}
}

// Deregister removes a correlation. Because removal takes the write lock, no
// progress event for the job can be published after Deregister returns,
// which keeps terminal events last for each generation.
func (s *Service) Deregister(workerJobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.correlations, workerJobID)
}

// Lookup resolves a worker job id to (generation id, session id).
func (s *Service) Lookup(workerJobID string) (string, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.correlations[workerJobID]
	return c.generationID, c.sessionID, ok
}

// Subscribe attaches a new subscriber to a session.
func (s *Service) Subscribe(sessionID string) interfaces.Subscriber {
	sub := newSubscriber(s.bufferSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subscribers[sessionID]
	if !ok {
		set = make(map[*subscriber]struct{})
		s.subscribers[sessionID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Unsubscribe detaches and closes a subscriber.
func (s *Service) Unsubscribe(sessionID string, sub interfaces.Subscriber) {
	impl, ok := sub.(*subscriber)
	if !ok {
		return
	}

	s.mu.Lock()
	if set, ok := s.subscribers[sessionID]; ok {
		delete(set, impl)
		if len(set) == 0 {
			delete(s.subscribers, sessionID)
		}
	}
	s.mu.Unlock()

	impl.Close()
}

// Publish sends an event to every live subscriber of the session. Dead
// subscribers are pruned; the rest keep receiving.
func (s *Service) Publish(sessionID string, event models.Event) {
	s.mu.RLock()
	set := s.subscribers[sessionID]
	subs := make([]*subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	var dead []*subscriber
	for _, sub := range subs {
		if !sub.deliver(event) {
			dead = append(dead, sub)
		}
	}
	for _, sub := range dead {
		s.Unsubscribe(sessionID, sub)
	}
}

// HandleWorkerEvent is the fan-in sink wired into every worker client.
// Progress events are normalized and forwarded; queue-depth reports sync the
// registry; events for unknown jobs are dropped. Completion is published by
// the executor once the artifact is stored, so executed events carry no
// downstream traffic here.
func (s *Service) HandleWorkerEvent(ev interfaces.WorkerEvent) {
	switch ev.Type {
	case interfaces.WorkerEventProgress:
		generationID, sessionID, ok := s.Lookup(ev.WorkerJobID)
		if !ok {
			return
		}
		s.Publish(sessionID, models.Event{
			Type: models.EventProgress,
			Payload: models.ProgressPayload{
				GenerationID: generationID,
				CurrentStep:  ev.Value,
				TotalSteps:   ev.Max,
			},
		})
	case interfaces.WorkerEventStatus:
		if s.registry == nil || ev.NodeID == "" {
			return
		}
		node, err := s.registry.Get(ev.NodeID)
		if err != nil {
			return
		}
		if delta := ev.QueueRemaining - node.QueueDepth; delta != 0 {
			if err := s.registry.BumpQueue(ev.NodeID, delta); err != nil {
				s.logger.Warn().Err(err).Str("node", ev.NodeID).Msg("Failed to sync queue depth")
			}
		}
	}
}

// Close shuts down every subscriber.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sessionID, set := range s.subscribers {
		for sub := range set {
			sub.Close()
		}
		delete(s.subscribers, sessionID)
	}
	s.correlations = make(map[string]correlation)
	s.logger.Info().Msg("Progress aggregator closed")
	return nil
}
