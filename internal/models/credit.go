package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit transaction kinds. The ledger is append-only; amounts are signed
// (deductions negative, refunds and grants positive).
const (
	CreditDeduct = "deduct"
	CreditRefund = "refund"
	CreditGrant  = "grant"
)

type CreditTransaction struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	UserID       uuid.UUID  `json:"user_id" db:"user_id"`
	Amount       int        `json:"amount" db:"amount"`
	BalanceAfter int        `json:"balance_after" db:"balance_after"`
	Kind         string     `json:"kind" db:"kind"`
	GenerationID *uuid.UUID `json:"generation_id,omitempty" db:"generation_id"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
