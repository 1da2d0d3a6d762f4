package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fluxapay-backend/internal/core/domain"
	"fluxapay-backend/internal/core/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/protocols/horizon/base"
	"github.com/stellar/go/txnbuild"
)

// --- In-Memory Payment Repo ---

type inMemoryPaymentRepo struct {
	mu        sync.Mutex
	payments  map[uuid.UUID]*domain.Payment
	nextIndex uint32
}

func newInMemoryPaymentRepo() *inMemoryPaymentRepo {
	return &inMemoryPaymentRepo{payments: make(map[uuid.UUID]*domain.Payment)}
}

func (r *inMemoryPaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.payments[p.ID] = &cp
	return nil
}

func (r *inMemoryPaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *inMemoryPaymentRepo) List(ctx context.Context, params ports.PaymentListParams) ([]domain.Payment, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []domain.Payment
	for _, p := range r.payments {
		if p.MerchantID != params.MerchantID {
			continue
		}
		if params.Status != nil && p.Status != *params.Status {
			continue
		}
		if params.Currency != nil && p.Currency != *params.Currency {
			continue
		}
		matched = append(matched, *p)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (params.Page - 1) * params.PageSize
	if start >= len(matched) {
		return []domain.Payment{}, total, nil
	}
	end := start + params.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *inMemoryPaymentRepo) NextAddressIndex(ctx context.Context) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.nextIndex
	r.nextIndex++
	return idx, nil
}

func (r *inMemoryPaymentRepo) FindSweepEligible(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var eligible []domain.Payment
	for _, p := range r.payments {
		if p.SweepEligible(now) {
			eligible = append(eligible, *p)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func (r *inMemoryPaymentRepo) MarkSwept(ctx context.Context, id uuid.UUID, txHash string, sweptAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Swept {
		return false, nil
	}
	p.Swept = true
	p.SweptAt = &sweptAt
	p.SweepTxHash = &txHash
	p.Status = domain.PaymentStatusSwept
	return true, nil
}

func (r *inMemoryPaymentRepo) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, p := range r.payments {
		if !p.ExpiresAt.After(now) && !p.Swept && !p.IsTerminal() {
			p.Status = domain.PaymentStatusExpired
			n++
		}
	}
	return n, nil
}

// setStatus simulates the (out-of-scope here) deposit watcher confirming an
// on-chain payment.
func (r *inMemoryPaymentRepo) setStatus(id uuid.UUID, status domain.PaymentStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.payments[id]; ok {
		p.Status = status
	}
}

// --- In-Memory Idempotency Repo ---

type inMemoryIdempotencyRepo struct {
	mu      sync.Mutex
	records map[string]*domain.IdempotencyRecord
}

func newInMemoryIdempotencyRepo() *inMemoryIdempotencyRepo {
	return &inMemoryIdempotencyRepo{records: make(map[string]*domain.IdempotencyRecord)}
}

func (r *inMemoryIdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *inMemoryIdempotencyRepo) Upsert(ctx context.Context, record *domain.IdempotencyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[record.Key]; ok && existing.RequestHash != record.RequestHash {
		return nil
	}
	cp := *record
	r.records[record.Key] = &cp
	return nil
}

// --- In-Memory Merchant Repo ---

type inMemoryMerchantRepo struct {
	mu        sync.RWMutex
	merchants map[uuid.UUID]*domain.Merchant
}

func newInMemoryMerchantRepo() *inMemoryMerchantRepo {
	return &inMemoryMerchantRepo{merchants: make(map[uuid.UUID]*domain.Merchant)}
}

func (r *inMemoryMerchantRepo) add(m *domain.Merchant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.merchants[m.ID] = m
}

func (r *inMemoryMerchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.merchants[id]
	if !ok {
		return nil, nil
	}
	return m, nil
}

// --- Fake Ledger ---

type ledgerAccount struct {
	sequence int64
	balance  decimal.Decimal
}

// fakeLedger models just enough of Horizon for sweep tests: funded accounts
// with a credit balance and strict sequence number checking, so a stale
// duplicate submission fails the way the real network rejects it.
type fakeLedger struct {
	mu          sync.Mutex
	assetCode   string
	assetIssuer string
	accounts    map[string]*ledgerAccount
	submissions map[string]int // successful submits per source account
	submitSeq   int
}

func newFakeLedger(assetCode, assetIssuer string) *fakeLedger {
	return &fakeLedger{
		assetCode:   assetCode,
		assetIssuer: assetIssuer,
		accounts:    make(map[string]*ledgerAccount),
		submissions: make(map[string]int),
	}
}

func (l *fakeLedger) fund(address string, balance string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[address] = &ledgerAccount{
		sequence: 100,
		balance:  decimal.RequireFromString(balance),
	}
}

func (l *fakeLedger) successfulSubmits(address string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submissions[address]
}

func (l *fakeLedger) LoadAccount(ctx context.Context, address string) (*horizon.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[address]
	if !ok {
		return nil, ports.ErrAccountNotFound
	}
	return &horizon.Account{
		AccountID: address,
		Sequence:  acct.sequence,
		Balances: []horizon.Balance{
			{
				Balance: acct.balance.String(),
				Asset: base.Asset{
					Type:   "credit_alphanum4",
					Code:   l.assetCode,
					Issuer: l.assetIssuer,
				},
			},
		},
	}, nil
}

func (l *fakeLedger) FetchBaseFee(ctx context.Context) (int64, error) {
	return 100, nil
}

func (l *fakeLedger) SubmitTransaction(ctx context.Context, tx *txnbuild.Transaction) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	source := tx.SourceAccount().AccountID
	acct, ok := l.accounts[source]
	if !ok {
		return "", fmt.Errorf("source account not found")
	}
	if tx.SequenceNumber() != acct.sequence+1 {
		return "", fmt.Errorf("tx_bad_seq: want %d, got %d", acct.sequence+1, tx.SequenceNumber())
	}

	acct.sequence++
	acct.balance = decimal.Zero
	l.submissions[source]++
	l.submitSeq++
	return fmt.Sprintf("%064x", l.submitSeq), nil
}
