package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fluxapay-backend/internal/core/domain"
	"fluxapay-backend/internal/core/ports"
	"fluxapay-backend/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/txnbuild"
)

// sweepRunLockKey guards against overlapping runs. The lock is advisory: the
// MarkSwept compare-and-set is what actually prevents a double consolidation.
const sweepRunLockKey = "sweep:run"

// txTimeoutSeconds bounds how long a signed sweep transaction stays valid.
const txTimeoutSeconds = 60

// SweepConfig carries the settlement targets and run tuning.
type SweepConfig struct {
	TreasuryAddress    string
	AssetCode          string
	AssetIssuer        string
	FundingAddress     string
	EnableAccountMerge bool
	NetworkPassphrase  string
	Concurrency        int
	BatchSize          int
	PaymentTimeout     time.Duration
	RunLockTTL         time.Duration
}

func (c *SweepConfig) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = 45 * time.Second
	}
	if c.RunLockTTL <= 0 {
		c.RunLockTTL = 10 * time.Minute
	}
}

// SweepServiceImpl implements ports.SweepService. Each run selects the
// sweep-eligible payments, re-derives every deposit account's signing key,
// and consolidates discovered balances into the treasury account. Payments
// are processed independently: one failure never aborts its siblings.
type SweepServiceImpl struct {
	paymentRepo ports.PaymentRepository
	deriver     ports.KeyDeriver
	ledger      ports.LedgerClient
	locker      ports.Locker
	notifier    ports.WebhookNotifier // nil disables merchant notifications
	cfg         SweepConfig
	log         zerolog.Logger
}

// NewSweepService creates a new SweepServiceImpl.
func NewSweepService(
	paymentRepo ports.PaymentRepository,
	deriver ports.KeyDeriver,
	ledger ports.LedgerClient,
	locker ports.Locker,
	notifier ports.WebhookNotifier,
	cfg SweepConfig,
	log zerolog.Logger,
) *SweepServiceImpl {
	cfg.applyDefaults()
	return &SweepServiceImpl{
		paymentRepo: paymentRepo,
		deriver:     deriver,
		ledger:      ledger,
		locker:      locker,
		notifier:    notifier,
		cfg:         cfg,
		log:         log,
	}
}

type sweepOutcome int

const (
	outcomeSwept sweepOutcome = iota
	outcomeSkipped
	outcomeFailed
)

// RunOnce executes one full sweep pass.
func (s *SweepServiceImpl) RunOnce(ctx context.Context) (*ports.SweepReport, error) {
	acquired, err := s.locker.Acquire(ctx, sweepRunLockKey, s.cfg.RunLockTTL)
	if err != nil {
		// Degraded lock store: proceed anyway, the per-payment compare-and-set
		// still prevents double sweeps across overlapping runs.
		s.log.Warn().Err(err).Msg("sweep run lock unavailable, proceeding without it")
	} else if !acquired {
		return nil, apperror.ErrSweepAlreadyRunning()
	} else {
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), sweepRunLockKey); err != nil {
				s.log.Warn().Err(err).Msg("releasing sweep run lock failed; it expires with its TTL")
			}
		}()
	}

	now := time.Now().UTC()
	payments, err := s.paymentRepo.FindSweepEligible(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("find sweep-eligible payments: %w", err))
	}

	report := &ports.SweepReport{Eligible: len(payments)}
	if len(payments) == 0 {
		return report, nil
	}

	s.log.Info().Int("eligible", len(payments)).Msg("sweep run started")

	jobs := make(chan domain.Payment)
	results := make(chan sweepOutcome, len(payments))

	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				results <- s.sweepOne(ctx, &p)
			}
		}()
	}

dispatch:
	for _, p := range payments {
		select {
		case jobs <- p:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	for outcome := range results {
		switch outcome {
		case outcomeSwept:
			report.Swept++
		case outcomeSkipped:
			report.Skipped++
		case outcomeFailed:
			report.Failed++
		}
	}

	s.log.Info().
		Int("eligible", report.Eligible).
		Int("swept", report.Swept).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("sweep run finished")

	return report, ctx.Err()
}

// sweepOne runs the per-payment pipeline. All failures are contained: the
// payment stays eligible and is retried on the next run. Nothing is persisted
// until the consolidation transaction has been accepted by the network.
func (s *SweepServiceImpl) sweepOne(ctx context.Context, p *domain.Payment) sweepOutcome {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()

	kp, err := s.deriver.Derive(p.DerivationVersion, p.AddressIndex)
	if err != nil {
		return s.fail(p, "derive", err)
	}
	if kp.Address() != p.DepositAddress {
		// Derivation drift would sign with the wrong key. Hard stop for this
		// payment; the stored address is the source of truth.
		return s.fail(p, "derive", fmt.Errorf("derived address %s does not match stored deposit address %s", kp.Address(), p.DepositAddress))
	}

	account, err := s.ledger.LoadAccount(ctx, p.DepositAddress)
	if err != nil {
		if errors.Is(err, ports.ErrAccountNotFound) {
			// The customer never funded the address. Nothing to sweep.
			s.log.Debug().Str("payment_id", p.ID.String()).Msg("deposit account not on ledger yet, skipping")
			return outcomeSkipped
		}
		return s.fail(p, "load_account", err)
	}

	// Only the configured settlement asset is swept; balances in any other
	// asset on the account are ignored.
	balance := account.GetCreditBalance(s.cfg.AssetCode, s.cfg.AssetIssuer)
	if balance == "" {
		s.log.Debug().Str("payment_id", p.ID.String()).Msg("no settlement asset trustline, skipping")
		return outcomeSkipped
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return s.fail(p, "balance", fmt.Errorf("parsing balance %q: %w", balance, err))
	}
	if !amount.IsPositive() {
		s.log.Debug().Str("payment_id", p.ID.String()).Msg("zero settlement balance, skipping")
		return outcomeSkipped
	}

	baseFee, err := s.ledger.FetchBaseFee(ctx)
	if err != nil {
		return s.fail(p, "base_fee", err)
	}

	seq, err := account.GetSequenceNumber()
	if err != nil {
		return s.fail(p, "sequence", err)
	}

	ops := []txnbuild.Operation{
		&txnbuild.Payment{
			Destination: s.cfg.TreasuryAddress,
			Amount:      amount.String(),
			Asset:       txnbuild.CreditAsset{Code: s.cfg.AssetCode, Issuer: s.cfg.AssetIssuer},
		},
	}
	if s.cfg.EnableAccountMerge {
		// Reclaim the deposit account's base reserve into the funding account.
		ops = append(ops, &txnbuild.AccountMerge{Destination: s.cfg.FundingAddress})
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &txnbuild.SimpleAccount{AccountID: p.DepositAddress, Sequence: seq},
		IncrementSequenceNum: true,
		Operations:           ops,
		BaseFee:              baseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(txTimeoutSeconds)},
	})
	if err != nil {
		return s.fail(p, "build_tx", err)
	}

	signed, err := tx.Sign(s.cfg.NetworkPassphrase, kp)
	if err != nil {
		return s.fail(p, "sign", err)
	}

	hash, err := s.ledger.SubmitTransaction(ctx, signed)
	if err != nil {
		return s.fail(p, "submit", err)
	}

	sweptAt := time.Now().UTC()
	updated, err := s.paymentRepo.MarkSwept(ctx, p.ID, hash, sweptAt)
	if err != nil {
		// The transaction is on-chain but unrecorded; the next run will find
		// an emptied account and skip. Loud log so operators can reconcile.
		s.log.Error().Err(err).
			Str("payment_id", p.ID.String()).
			Str("tx_hash", hash).
			Msg("sweep submitted but recording failed")
		return outcomeFailed
	}
	if !updated {
		// A concurrent run won the compare-and-set: the payment is already
		// settled, which is the outcome we wanted. Not an error.
		s.log.Info().Str("payment_id", p.ID.String()).Msg("payment already marked swept by a concurrent run")
		return outcomeSkipped
	}

	p.Swept = true
	p.SweptAt = &sweptAt
	p.SweepTxHash = &hash
	p.Status = domain.PaymentStatusSwept

	s.log.Info().
		Str("payment_id", p.ID.String()).
		Str("tx_hash", hash).
		Str("amount", amount.String()).
		Str("asset", s.cfg.AssetCode).
		Msg("payment swept to treasury")

	if s.notifier != nil {
		if err := s.notifier.NotifySwept(ctx, p); err != nil {
			s.log.Warn().Err(err).Str("payment_id", p.ID.String()).Msg("sweep webhook delivery failed")
		}
	}

	return outcomeSwept
}

func (s *SweepServiceImpl) fail(p *domain.Payment, stage string, err error) sweepOutcome {
	s.log.Error().Err(err).
		Str("payment_id", p.ID.String()).
		Str("stage", stage).
		Msg("sweep failed for payment, will retry next run")
	return outcomeFailed
}

// Start runs the sweep scheduler until ctx is cancelled. Before each pass it
// transitions overdue payments to expired so they drop out of the scan.
func (s *SweepServiceImpl) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", interval).Msg("sweep scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweep scheduler stopped")
			return
		case <-ticker.C:
			if n, err := s.paymentRepo.MarkExpired(ctx, time.Now().UTC()); err != nil {
				s.log.Warn().Err(err).Msg("marking expired payments failed")
			} else if n > 0 {
				s.log.Info().Int64("count", n).Msg("marked overdue payments expired")
			}

			if _, err := s.RunOnce(ctx); err != nil {
				var appErr *apperror.AppError
				if errors.As(err, &appErr) && appErr.Code == "SWEEP_001" {
					s.log.Debug().Msg("previous sweep run still in progress, skipping tick")
				} else if !errors.Is(err, context.Canceled) {
					s.log.Error().Err(err).Msg("sweep run failed")
				}
			}
		}
	}
}
