package billing

import (
	"context"
	"database/sql"
	"testing"
)

// These are true unit tests for billing.Service input validation behavior.
//
// The money operations (Credit/ChargeLead) are implemented with
// Postgres-specific SQL (notably SELECT ... FOR UPDATE). That means end-to-end
// behavior tests (balance changes, ledger inserts, lead-charge idempotency)
// are best covered via integration tests against Postgres.
//
// What we *can* safely unit-test without a DB:
// - request validation (
//   account_id presence,
//   currency presence,
//   idempotency key / lead_id presence,
//   amount > 0
// )

func TestBillingService_Credit_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil))

	_, _, err := svc.Credit(context.Background(), "", CreditRequest{AmountMinor: 100, Currency: "USD", IdempotencyKey: "k"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Credit(context.Background(), "acct", CreditRequest{AmountMinor: 0, Currency: "USD", IdempotencyKey: "k"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Credit(context.Background(), "acct", CreditRequest{AmountMinor: 100, Currency: "", IdempotencyKey: "k"})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.Credit(context.Background(), "acct", CreditRequest{AmountMinor: 100, Currency: "USD", IdempotencyKey: ""})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestBillingService_ChargeLead_RejectsInvalidArgs(t *testing.T) {
	svc := NewService((*sql.DB)(nil))

	_, _, err := svc.ChargeLead(context.Background(), "", "lead-1", 100, "USD")
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}

	_, _, err = svc.ChargeLead(context.Background(), "acct", "", 100, "USD")
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument (missing lead), got %v", err)
	}

	_, _, err = svc.ChargeLead(context.Background(), "acct", "lead-1", -1, "USD")
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument (amount <= 0), got %v", err)
	}
}

func TestValidateMoneyReq(t *testing.T) {
	if err := validateMoneyReq("acct", 1, "USD", "k"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := validateMoneyReq("", 1, "USD", "k"); err == nil {
		t.Fatalf("expected error")
	}
}
