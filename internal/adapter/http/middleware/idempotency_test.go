package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fluxapay-backend/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memIdemRepo struct {
	mu   sync.Mutex
	recs map[string]domain.IdempotencyRecord
}

func newMemIdemRepo() *memIdemRepo {
	return &memIdemRepo{recs: make(map[string]domain.IdempotencyRecord)}
}

func (r *memIdemRepo) Get(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[key]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (r *memIdemRepo) Upsert(_ context.Context, rec *domain.IdempotencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.recs[rec.Key]; ok && existing.RequestHash != rec.RequestHash {
		return nil // diverging duplicate never overwrites the original
	}
	r.recs[rec.Key] = *rec
	return nil
}

type memIdemCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemIdemCache() *memIdemCache {
	return &memIdemCache{data: make(map[string][]byte)}
}

func (c *memIdemCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *memIdemCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

type memLocker struct {
	mu          sync.Mutex
	held        map[string]bool
	failAcquire bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	if l.failAcquire {
		return false, errors.New("lock store down")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

type gateFixture struct {
	repo    *memIdemRepo
	cache   *memIdemCache
	locker  *memLocker
	engine  *gin.Engine
	handled atomic.Int64
}

// newGateFixture wires a POST endpoint behind the gate. The handler counts
// invocations and returns a fresh UUID, so an accidental re-execution is
// visible both in the counter and in a diverging response body.
func newGateFixture(t *testing.T, opts IdempotencyOptions, merchantID *uuid.UUID) *gateFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &gateFixture{
		repo:   newMemIdemRepo(),
		cache:  newMemIdemCache(),
		locker: newMemLocker(),
	}

	r := gin.New()
	r.POST("/payments",
		func(c *gin.Context) {
			if merchantID != nil {
				c.Set(CtxMerchantID, *merchantID)
			}
			c.Next()
		},
		Idempotency(f.repo, f.cache, f.locker, opts, zerolog.Nop()),
		func(c *gin.Context) {
			f.handled.Add(1)
			c.JSON(http.StatusCreated, gin.H{"id": uuid.New().String()})
		},
	)
	f.engine = r
	return f
}

func (f *gateFixture) post(key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestIdempotency_PassThroughWithoutHeader(t *testing.T) {
	f := newGateFixture(t, IdempotencyOptions{}, nil)

	first := f.post("", `{"amount":"10"}`)
	second := f.post("", `{"amount":"10"}`)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, int64(2), f.handled.Load())
}

func TestIdempotency_ReplaysCompletedRequest(t *testing.T) {
	f := newGateFixture(t, IdempotencyOptions{}, nil)

	first := f.post("key-1", `{"amount":"10"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := f.post("key-1", `{"amount":"10"}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String(), "replay must be byte-identical")
	assert.Equal(t, "HIT", second.Header().Get(HeaderIdempotencyCache))
	assert.Empty(t, first.Header().Get(HeaderIdempotencyCache))
	assert.Equal(t, int64(1), f.handled.Load(), "handler must run exactly once")
}

func TestIdempotency_KeyReusedWithDifferentBody(t *testing.T) {
	f := newGateFixture(t, IdempotencyOptions{}, nil)

	first := f.post("key-1", `{"amount":"10"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := f.post("key-1", `{"amount":"99"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, second.Code)
	assert.Contains(t, second.Body.String(), "IDEM_002")
	assert.Equal(t, int64(1), f.handled.Load())
}

func TestIdempotency_KeyOwnership(t *testing.T) {
	owner := uuid.New()
	f := newGateFixture(t, IdempotencyOptions{}, &owner)

	first := f.post("key-1", `{"amount":"10"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	// Same key and body presented by a different merchant, against the same
	// backing stores.
	thief := uuid.New()
	stolen := &gateFixture{repo: f.repo, cache: f.cache, locker: newMemLocker()}
	r := gin.New()
	r.POST("/payments",
		func(c *gin.Context) { c.Set(CtxMerchantID, thief); c.Next() },
		Idempotency(stolen.repo, stolen.cache, stolen.locker, IdempotencyOptions{}, zerolog.Nop()),
		func(c *gin.Context) {
			stolen.handled.Add(1)
			c.JSON(http.StatusCreated, gin.H{"id": uuid.New().String()})
		},
	)
	stolen.engine = r

	second := stolen.post("key-1", `{"amount":"10"}`)
	assert.Equal(t, http.StatusForbidden, second.Code)
	assert.Contains(t, second.Body.String(), "IDEM_001")
	assert.Equal(t, int64(0), stolen.handled.Load())
}

func TestIdempotency_ConcurrentDuplicatesExecuteOnce(t *testing.T) {
	f := newGateFixture(t, IdempotencyOptions{Wait: 5 * time.Second}, nil)

	// Slow the handler down so the duplicates genuinely overlap.
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/payments",
		Idempotency(f.repo, f.cache, f.locker, IdempotencyOptions{Wait: 5 * time.Second}, zerolog.Nop()),
		func(c *gin.Context) {
			f.handled.Add(1)
			time.Sleep(100 * time.Millisecond)
			c.JSON(http.StatusCreated, gin.H{"id": uuid.New().String()})
		},
	)
	f.engine = r

	const n = 5
	results := make(chan *httptest.ResponseRecorder, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.post("key-1", `{"amount":"10"}`)
		}()
	}
	wg.Wait()
	close(results)

	var bodies []string
	for w := range results {
		require.Equal(t, http.StatusCreated, w.Code)
		bodies = append(bodies, w.Body.String())
	}
	assert.Equal(t, int64(1), f.handled.Load(), "only the lock winner may execute")
	for _, b := range bodies[1:] {
		assert.Equal(t, bodies[0], b, "all duplicates must see the winner's response")
	}
}

// blockingIdemRepo stalls Upsert until released, holding open the window
// between handler completion and record persistence.
type blockingIdemRepo struct {
	*memIdemRepo
	upsertEntered chan struct{}
	upsertGate    chan struct{}
	enteredOnce   sync.Once
}

func (r *blockingIdemRepo) Upsert(ctx context.Context, rec *domain.IdempotencyRecord) error {
	r.enteredOnce.Do(func() { close(r.upsertEntered) })
	<-r.upsertGate
	return r.memIdemRepo.Upsert(ctx, rec)
}

func TestIdempotency_LockHeldUntilRecordStored(t *testing.T) {
	repo := &blockingIdemRepo{
		memIdemRepo:   newMemIdemRepo(),
		upsertEntered: make(chan struct{}),
		upsertGate:    make(chan struct{}),
	}
	f := &gateFixture{cache: newMemIdemCache(), locker: newMemLocker()}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/payments",
		Idempotency(repo, f.cache, f.locker, IdempotencyOptions{Wait: 5 * time.Second}, zerolog.Nop()),
		func(c *gin.Context) {
			f.handled.Add(1)
			c.JSON(http.StatusCreated, gin.H{"id": uuid.New().String()})
		},
	)
	f.engine = r

	firstDone := make(chan *httptest.ResponseRecorder, 1)
	go func() { firstDone <- f.post("key-1", `{"amount":"10"}`) }()

	// The winner finished its handler and is now persisting the record.
	<-repo.upsertEntered

	secondDone := make(chan *httptest.ResponseRecorder, 1)
	go func() { secondDone <- f.post("key-1", `{"amount":"10"}`) }()

	// Let the duplicate reach the gate while the record is still unwritten,
	// then let the persist finish.
	time.Sleep(300 * time.Millisecond)
	close(repo.upsertGate)

	first := <-firstDone
	second := <-secondDone
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int64(1), f.handled.Load(), "duplicate must wait for the winner's record, not re-execute")
}

func TestIdempotency_PanickingHandlerFreesKey(t *testing.T) {
	var boom atomic.Bool
	boom.Store(true)

	f := &gateFixture{repo: newMemIdemRepo(), cache: newMemIdemCache(), locker: newMemLocker()}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/payments",
		Idempotency(f.repo, f.cache, f.locker, IdempotencyOptions{Wait: 400 * time.Millisecond}, zerolog.Nop()),
		func(c *gin.Context) {
			f.handled.Add(1)
			if boom.Swap(false) {
				panic("downstream exploded")
			}
			c.JSON(http.StatusCreated, gin.H{"id": uuid.New().String()})
		},
	)
	f.engine = r

	first := f.post("key-1", `{"amount":"10"}`)
	require.Equal(t, http.StatusInternalServerError, first.Code)

	// The lock was released on the way out and nothing was memorized, so the
	// retry executes immediately instead of waiting out the lock TTL.
	second := f.post("key-1", `{"amount":"10"}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, int64(2), f.handled.Load())
}

func TestIdempotency_ReplaysOriginalContentType(t *testing.T) {
	f := &gateFixture{repo: newMemIdemRepo(), cache: newMemIdemCache(), locker: newMemLocker()}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/payments",
		Idempotency(f.repo, f.cache, f.locker, IdempotencyOptions{}, zerolog.Nop()),
		func(c *gin.Context) {
			f.handled.Add(1)
			c.Data(http.StatusCreated, "text/csv", []byte("id,amount\n1,10\n"))
		},
	)
	f.engine = r

	first := f.post("key-1", `{"amount":"10"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := f.post("key-1", `{"amount":"10"}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "text/csv", second.Header().Get("Content-Type"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int64(1), f.handled.Load())
}

func TestIdempotency_LockHeldWithNoRecordTimesOut(t *testing.T) {
	f := newGateFixture(t, IdempotencyOptions{Wait: 400 * time.Millisecond}, nil)

	// Simulate a winner that acquired the lock and is still executing.
	ok, err := f.locker.Acquire(context.Background(), idemLockPrefix+"key-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	w := f.post("key-1", `{"amount":"10"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "IDEM_003")
	assert.Equal(t, int64(0), f.handled.Load())
}

func TestIdempotency_ServerErrorsAreNotMemorized(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	f := &gateFixture{repo: newMemIdemRepo(), cache: newMemIdemCache(), locker: newMemLocker()}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/payments",
		Idempotency(f.repo, f.cache, f.locker, IdempotencyOptions{}, zerolog.Nop()),
		func(c *gin.Context) {
			f.handled.Add(1)
			if fail.Swap(false) {
				c.JSON(http.StatusInternalServerError, gin.H{"error_code": "SYS_001"})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"id": uuid.New().String()})
		},
	)
	f.engine = r

	first := f.post("key-1", `{"amount":"10"}`)
	require.Equal(t, http.StatusInternalServerError, first.Code)

	// The retry must reach the handler again, not replay the 500.
	second := f.post("key-1", `{"amount":"10"}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, int64(2), f.handled.Load())
}

func TestIdempotency_DegradedLockStoreStillExecutes(t *testing.T) {
	f := newGateFixture(t, IdempotencyOptions{}, nil)
	f.locker.failAcquire = true

	first := f.post("key-1", `{"amount":"10"}`)
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, int64(1), f.handled.Load())

	// The record was still written, so a later retry replays.
	f.locker.failAcquire = false
	second := f.post("key-1", `{"amount":"10"}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int64(1), f.handled.Load())
}

func TestIdempotency_OversizedKeyRejected(t *testing.T) {
	f := newGateFixture(t, IdempotencyOptions{}, nil)

	w := f.post(strings.Repeat("k", maxKeyLength+1), `{"amount":"10"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int64(0), f.handled.Load())
}

func TestIdempotency_CacheMissFallsBackToStorage(t *testing.T) {
	f := newGateFixture(t, IdempotencyOptions{}, nil)

	first := f.post("key-1", `{"amount":"10"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	// Wipe the cache layer; the durable record must still drive the replay.
	f.cache.mu.Lock()
	f.cache.data = make(map[string][]byte)
	f.cache.mu.Unlock()

	second := f.post("key-1", `{"amount":"10"}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int64(1), f.handled.Load())
}
