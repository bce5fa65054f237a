package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard hands out in-flight tokens for operation keys such as "call-7".
// Acquire reports ok=false when the key is already held; callers treat that
// as a silent no-op rather than waiting.  release must be called exactly
// once when ok is true.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// OpKey builds the guard key of an operation on one attendant.
func OpKey(op string, attendantID uint64) string {
	return fmt.Sprintf("%s-%d", op, attendantID)
}

// LocalGuard is an in-process set of held keys.
type LocalGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalGuard returns an empty LocalGuard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[string]struct{})}
}

func (g *LocalGuard) Acquire(_ context.Context, key string) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[key]; busy {
		return nil, false, nil
	}
	g.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, key)
			g.mu.Unlock()
		})
	}, true, nil
}

// Held reports whether key is currently acquired.
func (g *LocalGuard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}

// releaseScript deletes the key only if it still carries our token, so a
// release after TTL expiry cannot drop a lock another instance now holds.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares held keys between service instances through Redis.
// Keys expire after TTL so a crashed instance cannot block a desk forever.
type RedisGuard struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	token  func() string
}

// NewRedisGuard builds a RedisGuard.  prefix defaults to "wq:guard".
func NewRedisGuard(rdb *redis.Client, prefix string, ttl time.Duration) *RedisGuard {
	if prefix == "" {
		prefix = "wq:guard"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisGuard{rdb: rdb, prefix: prefix, ttl: ttl, token: uuid.NewString}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), bool, error) {
	full := g.prefix + ":" + key
	tok := g.token()
	ok, err := g.rdb.SetNX(ctx, full, tok, g.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// The request context may be gone by now.
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, g.rdb, []string{full}, tok).Err(); err != nil {
				log.Printf("op-guard: release %s failed: %v", full, err)
			}
		})
	}, true, nil
}

// ChainGuard takes the local key first, then the shared one.  When the
// shared guard errors, the local key alone is kept and the operation
// proceeds.
type ChainGuard struct {
	local  *LocalGuard
	shared Guard
}

// NewChainGuard combines local with shared.  shared may be nil.
func NewChainGuard(local *LocalGuard, shared Guard) *ChainGuard {
	return &ChainGuard{local: local, shared: shared}
}

func (g *ChainGuard) Acquire(ctx context.Context, key string) (func(), bool, error) {
	releaseLocal, ok, _ := g.local.Acquire(ctx, key)
	if !ok {
		return nil, false, nil
	}
	if g.shared == nil {
		return releaseLocal, true, nil
	}
	releaseShared, ok, err := g.shared.Acquire(ctx, key)
	if err != nil {
		log.Printf("op-guard: shared guard unavailable for %s, using local only: %v", key, err)
		return releaseLocal, true, nil
	}
	if !ok {
		releaseLocal()
		return nil, false, nil
	}
	return func() {
		releaseShared()
		releaseLocal()
	}, true, nil
}

// keyedMutex serialises work per attendant inside this process.  Unlike the
// guard it waits: two different operations on the same attendant (a call
// and a complete) run one after the other.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uint64]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uint64]*refLock)}
}

func (k *keyedMutex) Lock(id uint64) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
