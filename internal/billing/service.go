package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"leadflow-platform/pkg/utils"

	"github.com/google/uuid"
)

// Service provides buyer billing operations.
//
// Money invariants:
// - No balance updates without a ledger entry
// - Ledger is append-only (immutable)
// - All money operations must be executed in a DB transaction
//
// Balance strategy:
// - Balance is stored in a projection table (billing_balances) updated atomically
//   alongside ledger inserts.
type Service struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

type Balance struct {
	AccountID    string    `json:"account_id"`
	Currency     string    `json:"currency"`
	BalanceMinor int64     `json:"balance_minor"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreditRequest struct {
	AmountMinor    int64  `json:"amount_minor"`
	Currency       string `json:"currency"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

var (
	ErrNotFound        = errors.New("not found")
	ErrAccountDisabled = errors.New("account disabled")
	ErrInvalidArgument = errors.New("invalid argument")
)

func (s *Service) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	if accountID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return getBalance(ctx, s.db, accountID)
}

// Credit posts a top-up to the account. Safe to retry with the same
// idempotency key.
func (s *Service) Credit(ctx context.Context, accountID string, req CreditRequest) (LedgerEntry, Balance, error) {
	if err := validateMoneyReq(accountID, req.AmountMinor, req.Currency, req.IdempotencyKey); err != nil {
		return LedgerEntry{}, Balance{}, err
	}

	now := s.clock().UTC()
	ledgerID := uuid.NewString()

	var outLedger LedgerEntry
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		a, err := lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if a.Currency != req.Currency {
			return ErrInvalidArgument
		}

		// Idempotency: if a ledger entry already exists for this account+key,
		// return it and the current balance.
		if existing, ok, err := findLedgerByIdempotency(ctx, tx, accountID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger = existing
			b, err := getBalanceTx(ctx, tx, accountID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		entry := LedgerEntry{
			ID:             ledgerID,
			AccountID:      accountID,
			Type:           LedgerEntryTypeCredit,
			AmountMinor:    req.AmountMinor,
			Currency:       req.Currency,
			ExternalRef:    req.ExternalRef,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}

		b, err := applyBalanceDelta(ctx, tx, accountID, req.Currency, req.AmountMinor, now)
		if err != nil {
			return err
		}
		outLedger = entry
		outBal = b
		return nil
	})

	return outLedger, outBal, err
}

// ChargeLead debits the buyer's account for an accepted lead. The lead ID is
// the idempotency key, so redelivered intakes never double-bill. Charging is
// allowed to take the balance negative; buyers settle on their billing cycle.
func (s *Service) ChargeLead(ctx context.Context, accountID, leadID string, amountMinor int64, currency string) (LedgerEntry, Balance, error) {
	if leadID == "" {
		return LedgerEntry{}, Balance{}, ErrInvalidArgument
	}
	if err := validateMoneyReq(accountID, amountMinor, currency, leadID); err != nil {
		return LedgerEntry{}, Balance{}, err
	}

	now := s.clock().UTC()
	ledgerID := uuid.NewString()

	var outLedger LedgerEntry
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		a, err := lockAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if a.Currency != currency {
			return ErrInvalidArgument
		}
		if a.Status == AccountStatusDisabled {
			return ErrAccountDisabled
		}

		if existing, ok, err := findLedgerByIdempotency(ctx, tx, accountID, leadID); err != nil {
			return err
		} else if ok {
			outLedger = existing
			b, err := getBalanceTx(ctx, tx, accountID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		entry := LedgerEntry{
			ID:             ledgerID,
			AccountID:      accountID,
			Type:           LedgerEntryTypeDebit,
			AmountMinor:    -amountMinor,
			Currency:       currency,
			ExternalRef:    leadID,
			IdempotencyKey: leadID,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}

		b, err := applyBalanceDelta(ctx, tx, accountID, currency, -amountMinor, now)
		if err != nil {
			return err
		}
		outLedger = entry
		outBal = b
		return nil
	})

	return outLedger, outBal, err
}

func validateMoneyReq(accountID string, amountMinor int64, currency, idempotencyKey string) error {
	if accountID == "" {
		return ErrInvalidArgument
	}
	if currency == "" {
		return ErrInvalidArgument
	}
	if idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if amountMinor <= 0 {
		return ErrInvalidArgument
	}
	return nil
}
