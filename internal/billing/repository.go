package billing

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// NOTE: This repository assumes the following tables exist:
// - billing_accounts
// - billing_ledger (immutable append-only)
// - billing_balances (projection)
//
// It also assumes an idempotency constraint:
// UNIQUE (account_id, idempotency_key)

func lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (Account, error) {
	// Lock the account row to serialize concurrent money operations per account.
	const q = `
SELECT id, buyer_id, currency, status, created_at, updated_at
FROM billing_accounts
WHERE id = $1
FOR UPDATE
`
	var a Account
	if err := tx.QueryRowContext(ctx, q, accountID).Scan(
		&a.ID,
		&a.BuyerID,
		&a.Currency,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func getBalance(ctx context.Context, db *sql.DB, accountID string) (Balance, error) {
	const q = `
SELECT account_id, currency, balance_minor, updated_at
FROM billing_balances
WHERE account_id = $1
`
	var b Balance
	if err := db.QueryRowContext(ctx, q, accountID).Scan(
		&b.AccountID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func getBalanceTx(ctx context.Context, tx *sql.Tx, accountID string) (Balance, error) {
	const q = `
SELECT account_id, currency, balance_minor, updated_at
FROM billing_balances
WHERE account_id = $1
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, accountID).Scan(
		&b.AccountID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func findLedgerByIdempotency(ctx context.Context, tx *sql.Tx, accountID, key string) (LedgerEntry, bool, error) {
	const q = `
SELECT id, account_id, type, amount_minor, currency, external_ref, idempotency_key, metadata, created_at
FROM billing_ledger
WHERE account_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e LedgerEntry
	err := tx.QueryRowContext(ctx, q, accountID, key).Scan(
		&e.ID,
		&e.AccountID,
		&e.Type,
		&e.AmountMinor,
		&e.Currency,
		&e.ExternalRef,
		&e.IdempotencyKey,
		&e.Metadata,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LedgerEntry{}, false, nil
		}
		return LedgerEntry{}, false, err
	}
	return e, true, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e LedgerEntry) error {
	const q = `
INSERT INTO billing_ledger (
  id, account_id, type, amount_minor, currency, external_ref, idempotency_key, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.AccountID,
		e.Type,
		e.AmountMinor,
		e.Currency,
		e.ExternalRef,
		e.IdempotencyKey,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, accountID, currency string, deltaMinor int64, now time.Time) (Balance, error) {
	// Upsert the balance row. We keep currency stable. If a currency mismatch
	// happens, the account lock + service-level currency check should prevent
	// inconsistencies.
	const q = `
INSERT INTO billing_balances (account_id, currency, balance_minor, updated_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (account_id)
DO UPDATE SET balance_minor = billing_balances.balance_minor + EXCLUDED.balance_minor,
              updated_at = EXCLUDED.updated_at
RETURNING account_id, currency, balance_minor, updated_at
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, accountID, currency, deltaMinor, now).Scan(
		&b.AccountID,
		&b.Currency,
		&b.BalanceMinor,
		&b.UpdatedAt,
	); err != nil {
		return Balance{}, err
	}
	return b, nil
}
