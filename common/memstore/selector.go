package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/lyzr/agentflow/common/db"
	"github.com/lyzr/agentflow/common/redis"
)

// defaultProbeInterval bounds how often the selector rechecks whether a
// higher-priority backend came back online
const defaultProbeInterval = 30 * time.Second

// Selector is the ladder over the configured backends. It serves from
// the highest-priority backend that is alive, falls through to lower
// tiers when probes fail, and upgrades back when a better tier returns.
// Backend I/O errors degrade silently: reads return nil, writes are
// logged at debug and swallowed. Callers must not rely on durability.
type Selector struct {
	mu          sync.Mutex
	ladder      []backend
	active      int
	lastProbe   time.Time
	probeEvery  time.Duration
	migrateFrom backend
	log         Logger
}

// NewSelector builds the backend ladder from whatever is configured:
// postgres first, then redis, then the in-process map. database and
// client may be nil.
func NewSelector(ctx context.Context, database *db.DB, client *redis.Client, log Logger) *Selector {
	var ladder []backend
	if database != nil {
		ladder = append(ladder, &pgStore{db: database})
	}
	if client != nil {
		ladder = append(ladder, &redisStore{client: client})
	}
	ladder = append(ladder, newMemoryBackend())

	return newSelector(ctx, log, defaultProbeInterval, ladder...)
}

func newSelector(ctx context.Context, log Logger, probeEvery time.Duration, ladder ...backend) *Selector {
	s := &Selector{
		ladder:     ladder,
		active:     len(ladder) - 1,
		probeEvery: probeEvery,
		log:        log,
	}

	// Initial probe picks the best live tier
	for i, b := range s.ladder {
		if b.Available(ctx) {
			s.active = i
			break
		}
	}
	s.lastProbe = time.Now()
	s.log.Info("memory store selected", "backend", s.ladder[s.active].Backend())

	return s
}

// current returns the backend to serve from, running the opportunistic
// upgrade probe when due
func (s *Selector) current(ctx context.Context) backend {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active > 0 && time.Since(s.lastProbe) >= s.probeEvery {
		s.lastProbe = time.Now()
		for i := 0; i < s.active; i++ {
			if s.ladder[i].Available(ctx) {
				s.log.Info("memory store upgrading",
					"from", s.ladder[s.active].Backend(),
					"to", s.ladder[i].Backend())
				s.migrateFrom = s.ladder[s.active]
				s.active = i
				break
			}
		}
	}

	return s.ladder[s.active]
}

// migrateIfPending copies the previous tier's entries forward after an
// upgrade so already-written keys survive. Runs on the first Set that
// follows the upgrade.
func (s *Selector) migrateIfPending(ctx context.Context, target backend) {
	s.mu.Lock()
	from := s.migrateFrom
	s.migrateFrom = nil
	s.mu.Unlock()

	if from == nil || from == target {
		return
	}

	entries, err := from.Entries(ctx)
	if err != nil {
		s.log.Debug("memory store migration read failed", "from", from.Backend(), "error", err)
		return
	}
	migrated := 0
	for key, value := range entries {
		if err := target.Set(ctx, key, value); err != nil {
			s.log.Debug("memory store migration write failed", "key", key, "error", err)
			continue
		}
		migrated++
	}
	if migrated > 0 {
		s.log.Info("memory store migrated entries",
			"from", from.Backend(), "to", target.Backend(), "count", migrated)
	}
}

// Get reads a key from the active backend. Missing keys and backend
// failures both read as nil.
func (s *Selector) Get(ctx context.Context, key string) (interface{}, error) {
	b := s.current(ctx)
	value, err := b.Get(ctx, key)
	if err != nil {
		s.log.Debug("memory store read degraded", "backend", b.Backend(), "key", key, "error", err)
		return nil, nil
	}
	return value, nil
}

// Set writes a key to the active backend, migrating forward first when
// an upgrade is pending. Write failures are swallowed.
func (s *Selector) Set(ctx context.Context, key string, value interface{}) error {
	b := s.current(ctx)
	s.migrateIfPending(ctx, b)

	if err := b.Set(ctx, key, value); err != nil {
		s.log.Debug("memory store write degraded", "backend", b.Backend(), "key", key, "error", err)
	}
	return nil
}

// Clear empties the active backend
func (s *Selector) Clear(ctx context.Context) error {
	return s.current(ctx).Clear(ctx)
}

// Backend reports which tier is currently serving
func (s *Selector) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ladder[s.active].Backend()
}
