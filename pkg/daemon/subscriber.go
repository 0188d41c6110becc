package daemon

import (
	"encoding/json"
	"net"
	"sync"
	"time"
)

// subscriberWriteTimeout bounds one push write. A subscriber that cannot
// accept a line within it is pruned rather than waited on.
const subscriberWriteTimeout = 2 * time.Second

// subscriberSet fans push messages out to connected subscriber sockets.
type subscriberSet struct {
	mu    sync.Mutex
	conns map[net.Conn]*json.Encoder
}

func newSubscriberSet() *subscriberSet {
	return &subscriberSet{conns: make(map[net.Conn]*json.Encoder)}
}

func (s *subscriberSet) add(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = json.NewEncoder(conn)
}

func (s *subscriberSet) remove(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		conn.Close()
	}
}

// broadcast sends p to every subscriber, pruning any whose write fails
// or times out.
func (s *subscriberSet) broadcast(p Push) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn, enc := range s.conns {
		conn.SetWriteDeadline(time.Now().Add(subscriberWriteTimeout))
		if err := enc.Encode(p); err != nil {
			delete(s.conns, conn)
			conn.Close()
		}
	}
}

func (s *subscriberSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
}

func (s *subscriberSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
