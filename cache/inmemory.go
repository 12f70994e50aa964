package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type value struct {
	object  []byte
	expires time.Time
}

type shard struct {
	mutex sync.Mutex
	lru   *simplelru.LRU[string, *value]
}

type inMemoryCache struct {
	ctx       context.Context
	cancel    context.CancelFunc
	shards    []*shard
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Backend = (*inMemoryCache)(nil)

// NewInMemory returns a process-local Backend. Entries are spread over
// xxhash-selected shards, each an LRU bounded to its share of the configured
// capacity, and expire individually. Values never leave the process.
func NewInMemory(parent context.Context, opts ...Option) Backend {
	cfg := applyOptions(opts)
	if cfg.shards < 1 {
		cfg.shards = 1
	}
	if cfg.expiryCheck <= 0 {
		cfg.expiryCheck = time.Minute
	}
	perShard := cfg.capacity / cfg.shards
	if perShard < 1 {
		perShard = 1
	}
	ctx, cancel := context.WithCancel(parent)
	c := &inMemoryCache{
		ctx:    ctx,
		cancel: cancel,
		shards: make([]*shard, cfg.shards),
		cfg:    cfg,
	}
	for i := range c.shards {
		lru, _ := simplelru.NewLRU[string, *value](perShard, nil)
		c.shards[i] = &shard{lru: lru}
	}
	c.waitGroup.Add(1)
	go c.run()
	return c
}

func (c *inMemoryCache) Name() string { return "memory" }

func (c *inMemoryCache) shardFor(key string) *shard {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}

// lookup must be called with the shard mutex held.
func (s *shard) lookup(key string, now time.Time) (*value, bool) {
	val, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !val.expires.After(now) {
		s.lru.Remove(key)
		return nil, false
	}
	return val, true
}

func (c *inMemoryCache) Get(ctx context.Context, key string) (bool, []byte, error) {
	if err := callerDone(ctx, c.Name(), "get"); err != nil {
		return false, nil, err
	}
	s := c.shardFor(key)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	val, ok := s.lookup(key, c.cfg.now())
	if !ok {
		return false, nil, nil
	}
	return true, val.object, nil
}

func (c *inMemoryCache) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	if err := callerDone(ctx, c.Name(), "get_multi"); err != nil {
		return nil, err
	}
	now := c.cfg.now()
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		s := c.shardFor(key)
		s.mutex.Lock()
		if val, ok := s.lookup(key, now); ok {
			result[key] = val.object
		}
		s.mutex.Unlock()
	}
	return result, nil
}

func (c *inMemoryCache) Set(ctx context.Context, key string, val []byte, expires time.Duration) error {
	if err := callerDone(ctx, c.Name(), "set"); err != nil {
		return err
	}
	entry := &value{object: cloneBytes(val), expires: c.cfg.now().Add(c.cfg.ttl(expires))}
	s := c.shardFor(key)
	s.mutex.Lock()
	s.lru.Add(key, entry)
	s.mutex.Unlock()
	return nil
}

func (c *inMemoryCache) Add(ctx context.Context, key string, val []byte, expires time.Duration) (bool, error) {
	if err := callerDone(ctx, c.Name(), "add"); err != nil {
		return false, err
	}
	now := c.cfg.now()
	s := c.shardFor(key)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.lookup(key, now); ok {
		return false, nil
	}
	s.lru.Add(key, &value{object: cloneBytes(val), expires: now.Add(c.cfg.ttl(expires))})
	return true, nil
}

func (c *inMemoryCache) Expire(ctx context.Context, key string) (bool, error) {
	if err := callerDone(ctx, c.Name(), "expire"); err != nil {
		return false, err
	}
	s := c.shardFor(key)
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, live := s.lookup(key, c.cfg.now())
	s.lru.Remove(key)
	return live, nil
}

func (c *inMemoryCache) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

// Len returns the number of entries currently held, expired or not.
func (c *inMemoryCache) Len() int {
	var n int
	for _, s := range c.shards {
		s.mutex.Lock()
		n += s.lru.Len()
		s.mutex.Unlock()
	}
	return n
}

func (c *inMemoryCache) reap(now time.Time) {
	for _, s := range c.shards {
		s.mutex.Lock()
		for _, key := range s.lru.Keys() {
			if val, ok := s.lru.Peek(key); ok && !val.expires.After(now) {
				s.lru.Remove(key)
			}
		}
		s.mutex.Unlock()
	}
}

func (c *inMemoryCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.reap(c.cfg.now())
		}
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
