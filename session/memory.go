package session

import (
	"context"
	"sync"
	"time"

	"github.com/vitwit/dns402/logger"
	"github.com/vitwit/dns402/metrics"
	"github.com/vitwit/dns402/types"
)

// MemoryStore keeps sessions in a map. Entries are values and are replaced
// whole, so readers never observe a partial write.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]types.Session

	now      Clock
	interval time.Duration
	name     string
	logger   logger.Logger
	metrics  metrics.Recorder

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

var _ Store = (*MemoryStore)(nil)

type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now.
func WithClock(c Clock) MemoryOption {
	return func(s *MemoryStore) {
		s.now = c
	}
}

// WithSweepInterval changes how often expired entries are purged. Zero or
// negative disables the background sweep.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.interval = d
	}
}

// WithName labels log lines and metrics, e.g. "client" or "server".
func WithName(name string) MemoryOption {
	return func(s *MemoryStore) {
		s.name = name
	}
}

func WithLogger(l logger.Logger) MemoryOption {
	return func(s *MemoryStore) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) MemoryOption {
	return func(s *MemoryStore) {
		s.metrics = r
	}
}

// NewMemoryStore creates a store and starts its sweeper. Call Close to stop
// it.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]types.Session),
		now:      time.Now,
		interval: DefaultSweepInterval,
		name:     "sessions",
		logger:   logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.interval > 0 {
		go s.run()
	} else {
		close(s.stopped)
	}
	return s
}

func (s *MemoryStore) run() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_, _ = s.Sweep(context.Background(), s.now())
		}
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (types.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[key]
	s.mu.RUnlock()

	if !ok || sess.Expired(s.now()) {
		return types.Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, sess types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[key] = sess
	return nil
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, key string, sess types.Session) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[key]; ok && !existing.Expired(s.now()) {
		return false, nil
	}
	s.sessions[key] = sess
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key)
	return nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	removed := 0
	for key, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, key)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("swept expired sessions", map[string]any{
			"store": s.name,
			"count": removed,
		})
		s.metrics.AddCounter(metrics.SessionsSwept, float64(removed), map[string]string{"side": s.name})
	}
	return removed, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = make(map[string]types.Session)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the sweeper and waits for it to exit. It is safe to call more
// than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	<-s.stopped
	return nil
}
