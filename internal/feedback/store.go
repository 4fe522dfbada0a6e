package feedback

import "sync"

// Event announces that the feedback state of a message changed. State is the value
// current when listeners run, so the last event a listener sees is always the latest.
type Event struct {
	MessageID string
	State     State
}

// Listener receives store events. Listeners run synchronously and must not call Set.
type Listener func(Event)

// Store holds the feedback state of every message the process has touched.
type Store interface {
	Get(messageID string) (State, bool)
	Set(messageID string, state State)
	Subscribe(l Listener) (unsubscribe func())
}

// MemoryStore is a process-wide Store backed by a map.
type MemoryStore struct {
	mu        sync.RWMutex
	states    map[string]State
	listeners map[int]Listener
	nextID    int

	notifyMu sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:    make(map[string]State),
		listeners: make(map[int]Listener),
	}
}

func (s *MemoryStore) Get(messageID string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[messageID]
	if !ok {
		return State{}, false
	}
	return st.clone(), true
}

func (s *MemoryStore) Set(messageID string, state State) {
	s.mu.Lock()
	s.states[messageID] = state.clone()
	s.mu.Unlock()

	s.notify(messageID)
}

func (s *MemoryStore) Subscribe(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *MemoryStore) notify(messageID string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.RLock()
	st := s.states[messageID].clone()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(Event{MessageID: messageID, State: st})
	}
}
