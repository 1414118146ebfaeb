package billing

import "time"

// Account is a buyer's billing account. Accepted leads are charged against it.
// Invariant: the balance must be derived from immutable ledger entries.
// No code should ever mutate a balance without writing a corresponding ledger entry.
type Account struct {
	ID       string `json:"id" db:"id"`
	BuyerID  string `json:"buyer_id" db:"buyer_id"`
	Currency string `json:"currency" db:"currency"`

	// Optional operational flags (do not encode money state here).
	Status AccountStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusDisabled AccountStatus = "disabled"
)

// LedgerEntry is an immutable append-only entry.
// Each row represents a credit or debit posted to a buyer account.
//
// Money invariant: any balance change MUST have a corresponding ledger entry.
type LedgerEntry struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`

	// Type categorizes the ledger entry. Keep stable.
	Type LedgerEntryType `json:"type" db:"type"`

	// AmountMinor is the signed amount in minor units (e.g., cents).
	// Credits are positive, debits are negative.
	AmountMinor int64  `json:"amount_minor" db:"amount_minor"`
	Currency    string `json:"currency" db:"currency"`

	// ExternalRef is optional: lead_id, invoice_id, provider_event_id, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey is required for safe retries of money-posting operations.
	// Lead charges use the lead ID so a redelivered intake never double-bills.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	// Metadata is optional JSON for audit/debug (store as JSONB in Postgres).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LedgerEntryType string

const (
	LedgerEntryTypeCredit LedgerEntryType = "credit" // top-up, adjustment, etc.
	LedgerEntryTypeDebit  LedgerEntryType = "debit"  // lead charge, fee, etc.
)
