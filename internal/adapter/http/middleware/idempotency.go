package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"fluxapay-backend/internal/core/domain"
	"fluxapay-backend/internal/core/ports"
	"fluxapay-backend/pkg/apperror"
	"fluxapay-backend/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// HeaderIdempotencyKey is the client-supplied request identifier.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotencyCache marks a replayed response.
	HeaderIdempotencyCache = "X-Idempotency-Cache"

	idemLockPrefix   = "idemlock:"
	idemPollInterval = 200 * time.Millisecond
	maxKeyLength     = 255
)

// IdempotencyOptions tunes the gate.
type IdempotencyOptions struct {
	TTL     time.Duration // cached response retention
	LockTTL time.Duration // per-key execution lock
	Wait    time.Duration // how long a concurrent duplicate waits for the winner
}

func (o *IdempotencyOptions) applyDefaults() {
	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 30 * time.Second
	}
	if o.Wait <= 0 {
		o.Wait = 5 * time.Second
	}
}

// Idempotency gates mutating endpoints behind a client-supplied key. A retry
// carrying a key that already completed replays the stored response verbatim
// instead of executing again; a key reused with a different body is rejected;
// concurrent duplicates wait for the first execution and replay its outcome.
// Requests without the header pass through untouched.
func Idempotency(
	repo ports.IdempotencyRepository,
	cache ports.IdempotencyCache,
	locker ports.Locker,
	opts IdempotencyOptions,
	log zerolog.Logger,
) gin.HandlerFunc {
	opts.applyDefaults()

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxKeyLength {
			response.Error(c, apperror.Validation("idempotency key too long"))
			c.Abort()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.Error(c, apperror.Validation("cannot read request body"))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		fingerprint := domain.Fingerprint(body)
		merchantID := callerID(c)

		rec, err := lookup(c, repo, cache, key, log)
		if err != nil {
			response.Error(c, apperror.InternalError(err))
			c.Abort()
			return
		}
		if rec != nil {
			handleExisting(c, rec, merchantID, fingerprint)
			return
		}

		// First sighting of this key: claim the execution lock so concurrent
		// duplicates line up behind this request instead of racing it.
		lockKey := idemLockPrefix + key
		acquired, lockErr := locker.Acquire(c.Request.Context(), lockKey, opts.LockTTL)
		if lockErr != nil {
			// Degraded lock store: executing twice is preferable to rejecting;
			// the storage upsert still converges duplicates to one record.
			log.Warn().Err(lockErr).Str("idempotency_key", key).Msg("idempotency lock unavailable, proceeding")
			acquired = true
		} else if !acquired {
			// Someone else is executing this key right now. Wait for their
			// record to appear, then replay it.
			rec = awaitRecord(c, repo, cache, key, opts.Wait, log)
			if rec == nil {
				response.Error(c, apperror.ErrIdempotencyInProgress())
				c.Abort()
				return
			}
			handleExisting(c, rec, merchantID, fingerprint)
			return
		}

		if lockErr == nil {
			// Held until the record is stored: a duplicate arriving while the
			// winner persists must keep lining up behind the lock, not race a
			// still-missing record. Deferred so a panicking handler cannot
			// strand the key until the lock TTL lapses.
			defer func() {
				if err := locker.Release(context.WithoutCancel(c.Request.Context()), lockKey); err != nil {
					log.Warn().Err(err).Str("idempotency_key", key).Msg("releasing idempotency lock failed")
				}
			}()

			// The key may have completed between the initial miss and winning
			// the lock; replay the stored outcome instead of executing twice.
			if rec, err := lookup(c, repo, cache, key, log); err == nil && rec != nil {
				handleExisting(c, rec, merchantID, fingerprint)
				return
			}
		}

		writer := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Next()

		status := writer.Status()
		// Server errors are not memorized: the client must be able to retry
		// them and reach the handler again.
		if status >= 500 {
			return
		}

		record := &domain.IdempotencyRecord{
			Key:          key,
			MerchantID:   merchantID,
			RequestHash:  fingerprint,
			ResponseCode: status,
			ResponseBody: writer.body.Bytes(),
			ContentType:  writer.Header().Get("Content-Type"),
			CreatedAt:    time.Now().UTC(),
		}
		if err := repo.Upsert(c.Request.Context(), record); err != nil {
			log.Error().Err(err).Str("idempotency_key", key).Msg("persisting idempotency record failed")
			return
		}
		if data, err := json.Marshal(record); err == nil {
			if err := cache.Set(c.Request.Context(), key, data, opts.TTL); err != nil {
				log.Warn().Err(err).Str("idempotency_key", key).Msg("caching idempotency record failed")
			}
		}
	}
}

// handleExisting resolves a request whose key already has a record: verify
// the caller owns it and the body matches, then replay.
func handleExisting(c *gin.Context, rec *domain.IdempotencyRecord, merchantID *uuid.UUID, fingerprint string) {
	if !rec.OwnedBy(merchantID) {
		response.Error(c, apperror.ErrIdempotencyKeyOwnership())
		c.Abort()
		return
	}
	if !rec.Matches(fingerprint) {
		response.Error(c, apperror.ErrIdempotencyKeyConflict())
		c.Abort()
		return
	}
	replay(c, rec)
}

// replay writes the stored response verbatim.
func replay(c *gin.Context, rec *domain.IdempotencyRecord) {
	contentType := rec.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	c.Header(HeaderIdempotencyCache, "HIT")
	c.Data(rec.ResponseCode, contentType, rec.ResponseBody)
	c.Abort()
}

// lookup checks the cache first, then the durable store. Cache errors degrade
// to a storage read, never to a request failure.
func lookup(c *gin.Context, repo ports.IdempotencyRepository, cache ports.IdempotencyCache, key string, log zerolog.Logger) (*domain.IdempotencyRecord, error) {
	ctx := c.Request.Context()

	if data, err := cache.Get(ctx, key); err != nil {
		log.Warn().Err(err).Str("idempotency_key", key).Msg("idempotency cache read failed")
	} else if data != nil {
		rec := &domain.IdempotencyRecord{}
		if err := json.Unmarshal(data, rec); err == nil {
			return rec, nil
		}
		log.Warn().Str("idempotency_key", key).Msg("corrupt idempotency cache entry, falling back to storage")
	}

	return repo.Get(ctx, key)
}

// awaitRecord polls for the lock winner's record until the wait window runs
// out. Returns nil when the winner has not finished in time.
func awaitRecord(c *gin.Context, repo ports.IdempotencyRepository, cache ports.IdempotencyCache, key string, wait time.Duration, log zerolog.Logger) *domain.IdempotencyRecord {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		select {
		case <-c.Request.Context().Done():
			return nil
		case <-time.After(idemPollInterval):
		}

		rec, err := lookup(c, repo, cache, key, log)
		if err != nil {
			log.Warn().Err(err).Str("idempotency_key", key).Msg("idempotency poll failed")
			continue
		}
		if rec != nil {
			return rec
		}
	}
	return nil
}

// callerID returns the authenticated merchant, or nil for anonymous requests.
func callerID(c *gin.Context) *uuid.UUID {
	if id, ok := MerchantID(c); ok {
		return &id
	}
	return nil
}

// captureWriter duplicates everything written to the response so the gate can
// store it for replay.
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}
