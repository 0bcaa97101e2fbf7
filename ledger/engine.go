/*
engine.go - The money-movement engine

PURPOSE:
  Applies a deposit, withdrawal or transfer as one atomic unit of work:
  read the account(s), check the balance rule, mutate, append one record,
  commit. Holds no state between calls.

PER-CALL STATE MACHINE:
  Validated -> Authorized -> Classified -> AccountsResolved
            -> MutationApplied -> Persisted -> Returned
  Any state may fail fast; failures before Persisted write nothing.

CONCURRENCY:
  No engine-local locks. Each attempt re-reads the accounts and hands them
  back to the store with the Version it read. If another writer committed
  in between, the store answers ErrConcurrentModification and the whole
  attempt is redone against fresh balances:

    balance 100, two concurrent Withdrawal(60)
    A: read v1=100 -> save v1->v2=40   OK
    B: read v1=100 -> save v1          CONFLICT
    B: read v2=40  -> 40 < 60          InsufficientFunds

RETRY:
  Only ErrConcurrentModification is retried, MaxAttempts times with
  exponential backoff. Exhaustion surfaces ErrPersistenceConflict.
  Validation, authorization and balance errors are never retried.

SEE ALSO:
  - classify.go: MutationPolicy
  - store.go:    SaveAll contract
  - errors.go:   Taxonomy
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 10 * time.Millisecond

	// maxBackoff caps a single wait between attempts.
	maxBackoff = time.Second
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	repo        AccountRepository
	gate        Gate
	log         *zap.Logger
	now         func() time.Time
	maxAttempts int
	backoff     time.Duration
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock overrides the timestamp source for records.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRetry sets how many times a conflicting unit of work is attempted and
// the base delay between attempts. Values <= 0 keep the defaults.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(e *Engine) {
		if maxAttempts > 0 {
			e.maxAttempts = maxAttempts
		}
		if backoff > 0 {
			e.backoff = backoff
		}
	}
}

func NewEngine(repo AccountRepository, gate Gate, opts ...Option) *Engine {
	e := &Engine{
		repo:        repo,
		gate:        gate,
		log:         zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply validates, authorizes and classifies req, then runs the unit of work
// until it commits, fails logically, or runs out of attempts.
func (e *Engine) Apply(ctx context.Context, req Request) (TransactionRecord, error) {
	policy, err := e.admit(req)
	if err != nil {
		e.log.Debug("transaction rejected",
			zap.String("profile", string(req.Profile)),
			zap.Int("type_code", int(req.TypeCode)),
			zap.Int64("account_id", int64(req.AccountID)),
			zap.Error(err))
		return TransactionRecord{}, err
	}

	var last error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.wait(ctx, attempt); err != nil {
				return TransactionRecord{}, &ConflictError{Attempts: attempt - 1, Last: err}
			}
		}

		rec, err := e.attempt(ctx, req, policy)
		if err == nil {
			e.log.Info("transaction committed",
				zap.Int64("record_id", int64(rec.ID)),
				zap.Stringer("policy", policy),
				zap.Int64("account_id", int64(rec.AccountID)),
				zap.String("amount", FormatAmount(rec.Amount)),
				zap.Int("attempt", attempt))
			return rec, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			if IsClientError(err) || IsNotFound(err) {
				e.log.Debug("transaction rejected", zap.Stringer("policy", policy), zap.Error(err))
			} else {
				e.log.Error("transaction failed", zap.Stringer("policy", policy), zap.Error(err))
			}
			return TransactionRecord{}, err
		}

		last = err
		e.log.Warn("unit of work conflicted",
			zap.Stringer("policy", policy),
			zap.Int64("account_id", int64(req.AccountID)),
			zap.Int("attempt", attempt))
	}

	return TransactionRecord{}, &ConflictError{Attempts: e.maxAttempts, Last: last}
}

// admit covers Validated -> Authorized -> Classified. Nothing is read here.
func (e *Engine) admit(req Request) (MutationPolicy, error) {
	if !req.Amount.IsPositive() {
		return PolicyUnsupported, fmt.Errorf("%w: got %s", ErrInvalidAmount, req.Amount.String())
	}
	if !e.gate.Allows(req.Profile, ActionCreate, req.TypeCode) {
		return PolicyUnsupported, fmt.Errorf("%w: profile %q may not create transactions of type %d",
			ErrForbidden, req.Profile, req.TypeCode)
	}
	policy := Classify(req.TypeCode)
	if policy == PolicyUnsupported {
		return PolicyUnsupported, fmt.Errorf("%w: code %d", ErrInvalidTransactionType, req.TypeCode)
	}
	return policy, nil
}

// attempt covers AccountsResolved -> MutationApplied -> Persisted.
// Mutations happen on copies; nothing is visible until SaveAll commits.
func (e *Engine) attempt(ctx context.Context, req Request, policy MutationPolicy) (TransactionRecord, error) {
	primary, err := e.resolve(ctx, req.AccountID, false)
	if err != nil {
		return TransactionRecord{}, err
	}

	if policy == PolicyUnsupported {
		return TransactionRecord{}, fmt.Errorf("%w: policy %s", ErrInvalidTransactionType, policy)
	}

	var dest Account
	if policy.TouchesDestination() {
		if req.DestinationAccountID == req.AccountID {
			return TransactionRecord{}, fmt.Errorf("%w: account %d", ErrInvalidTransfer, req.AccountID)
		}
		if dest, err = e.resolve(ctx, req.DestinationAccountID, true); err != nil {
			return TransactionRecord{}, err
		}
	}

	if policy.Debits() {
		if err := debit(&primary, req.Amount); err != nil {
			return TransactionRecord{}, err
		}
	} else {
		primary.Balance = primary.Balance.Add(req.Amount)
	}

	touched := []Account{primary}
	if policy.TouchesDestination() {
		dest.Balance = dest.Balance.Add(req.Amount)
		touched = append(touched, dest)
	}

	record := TransactionRecord{
		AccountID:  primary.ID,
		TypeCode:   req.TypeCode,
		Amount:     req.Amount,
		OccurredAt: e.now(),
	}

	saved, err := e.repo.SaveAll(ctx, touched, record)
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			return TransactionRecord{}, err
		}
		return TransactionRecord{}, fmt.Errorf("failed to persist transaction: %w", err)
	}
	return saved, nil
}

func (e *Engine) resolve(ctx context.Context, id AccountID, destination bool) (Account, error) {
	acc, err := e.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, &AccountNotFoundError{AccountID: id, Destination: destination}
		}
		return Account{}, fmt.Errorf("failed to load account %d: %w", id, err)
	}
	return acc, nil
}

func debit(acc *Account, amount decimal.Decimal) error {
	if acc.Balance.LessThan(amount) {
		return &InsufficientFundsError{AccountID: acc.ID, Available: acc.Balance, Requested: amount}
	}
	acc.Balance = acc.Balance.Sub(amount)
	return nil
}

// wait sleeps backoff * 2^(attempt-2), capped at maxBackoff, before the
// given attempt.
func (e *Engine) wait(ctx context.Context, attempt int) error {
	d := e.backoff
	for i := 2; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
