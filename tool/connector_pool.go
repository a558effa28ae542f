package tool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/petal-labs/toolmux/provider"
)

const (
	defaultPoolSize = 2
	maxPoolSize     = 32

	// PoolSizeEnvVar overrides the pool size when none is configured.
	PoolSizeEnvVar = "TOOLMUX_POOL_SIZE"
)

// ErrPoolClosed is returned by Connect after the pool has been closed.
var ErrPoolClosed = errors.New("tool: connector pool closed")

// PoolConnector keeps provider sessions alive between exchanges. Each
// provider gets at most size live sessions; a session is handed to one
// caller at a time, and a session whose exchange failed is discarded
// rather than returned to the pool.
type PoolConnector struct {
	inner Connector
	size  int

	mu     sync.Mutex
	pools  map[string]*sessionPool
	closed bool
}

// NewPoolConnector wraps inner with per-provider keep-alive pools. A size of
// zero or less uses $TOOLMUX_POOL_SIZE or the default.
func NewPoolConnector(inner Connector, size int) *PoolConnector {
	if inner == nil {
		inner = NewStdioConnector(nil)
	}
	if size <= 0 {
		size = configuredPoolSize()
	}
	if size > maxPoolSize {
		size = maxPoolSize
	}
	return &PoolConnector{
		inner: inner,
		size:  size,
		pools: map[string]*sessionPool{},
	}
}

// Size is the per-provider session limit.
func (c *PoolConnector) Size() int {
	return c.size
}

// Connect hands out an idle session for desc or starts a new one when the
// provider is below its limit, waiting for ctx otherwise.
func (c *PoolConnector) Connect(ctx context.Context, desc provider.Descriptor) (Session, error) {
	pool, err := c.getOrCreate(desc)
	if err != nil {
		return nil, err
	}

	select {
	case session := <-pool.idle:
		return &pooledSession{Session: session, pool: pool}, nil
	default:
	}

	select {
	case session := <-pool.idle:
		return &pooledSession{Session: session, pool: pool}, nil
	case pool.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Pooled processes outlive the request that started them.
	session, err := c.inner.Connect(context.WithoutCancel(ctx), desc)
	if err != nil {
		<-pool.slots
		return nil, err
	}
	return &pooledSession{Session: session, pool: pool}, nil
}

// Close shuts down every idle pooled session. Sessions currently checked out
// are closed when released.
func (c *PoolConnector) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pools := c.pools
	c.pools = map[string]*sessionPool{}
	c.mu.Unlock()

	var errs []error
	for _, pool := range pools {
		if err := pool.close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *PoolConnector) getOrCreate(desc provider.Descriptor) (*sessionPool, error) {
	key, err := poolKey(desc)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrPoolClosed
	}
	if existing, ok := c.pools[key]; ok {
		return existing, nil
	}
	created := &sessionPool{
		slots: make(chan struct{}, c.size),
		idle:  make(chan Session, c.size),
	}
	c.pools[key] = created
	return created, nil
}

type sessionPool struct {
	// slots holds one token per live session, idle or checked out.
	slots chan struct{}
	idle  chan Session

	mu     sync.Mutex
	closed bool
}

func (p *sessionPool) put(ctx context.Context, session Session) error {
	p.mu.Lock()
	if !p.closed {
		select {
		case p.idle <- session:
			p.mu.Unlock()
			return nil
		default:
		}
	}
	p.mu.Unlock()
	return p.discard(ctx, session)
}

func (p *sessionPool) discard(ctx context.Context, session Session) error {
	err := session.Close(ctx)
	<-p.slots
	return err
}

func (p *sessionPool) close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case session := <-p.idle:
			if err := p.discard(ctx, session); err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}

// pooledSession is a checked-out session. Release returns it to the pool;
// Close always tears it down.
type pooledSession struct {
	Session
	pool *sessionPool
	once sync.Once
}

func (s *pooledSession) Release(ctx context.Context, healthy bool) error {
	var err error
	s.once.Do(func() {
		if healthy {
			err = s.pool.put(ctx, s.Session)
			return
		}
		err = s.pool.discard(ctx, s.Session)
	})
	return err
}

func (s *pooledSession) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		err = s.pool.discard(ctx, s.Session)
	})
	return err
}

func poolKey(desc provider.Descriptor) (string, error) {
	data, err := json.Marshal(desc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func configuredPoolSize() int {
	raw := strings.TrimSpace(os.Getenv(PoolSizeEnvVar))
	if raw == "" {
		return defaultPoolSize
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return defaultPoolSize
	}
	if value > maxPoolSize {
		return maxPoolSize
	}
	return value
}
