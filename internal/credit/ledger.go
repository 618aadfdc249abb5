package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/velro-ai/velro/internal/models"
)

// ErrInsufficient means the balance does not cover the requested deduction.
// Handlers map it to 402.
var ErrInsufficient = errors.New("credit: insufficient balance")

// DB is the slice of pgx both *pgxpool.Pool and pgx.Tx satisfy. Ledger
// moves run inside the caller's transaction when atomicity with other
// writes matters (generation create, refund-on-failure).
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Deduct removes amount credits from the user, guarded by the current
// balance, and appends the ledger row. The UPDATE and the guard are one
// statement, so concurrent deductions cannot overspend.
func Deduct(ctx context.Context, db DB, userID uuid.UUID, amount int, generationID *uuid.UUID) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit: deduct amount must be positive, got %d", amount)
	}

	var balanceAfter int
	err := db.QueryRow(ctx,
		`UPDATE users SET credits_balance = credits_balance - $2, updated_at = now()
		 WHERE id = $1 AND credits_balance >= $2
		 RETURNING credits_balance`,
		userID, amount,
	).Scan(&balanceAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInsufficient
	}
	if err != nil {
		return nil, fmt.Errorf("deduct credits: %w", err)
	}

	return insertTransaction(ctx, db, userID, -amount, balanceAfter, models.CreditDeduct, generationID)
}

// Refund returns amount credits to the user. Callers are responsible for
// invoking it at most once per failed generation (status transitions guard
// that).
func Refund(ctx context.Context, db DB, userID uuid.UUID, amount int, generationID *uuid.UUID) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit: refund amount must be positive, got %d", amount)
	}
	return adjust(ctx, db, userID, amount, models.CreditRefund, generationID)
}

// Grant adds credits outside the generation flow (signup bonus, support).
func Grant(ctx context.Context, db DB, userID uuid.UUID, amount int) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit: grant amount must be positive, got %d", amount)
	}
	return adjust(ctx, db, userID, amount, models.CreditGrant, nil)
}

func adjust(ctx context.Context, db DB, userID uuid.UUID, amount int, kind string, generationID *uuid.UUID) (*models.CreditTransaction, error) {
	var balanceAfter int
	err := db.QueryRow(ctx,
		`UPDATE users SET credits_balance = credits_balance + $2, updated_at = now()
		 WHERE id = $1
		 RETURNING credits_balance`,
		userID, amount,
	).Scan(&balanceAfter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s credits: unknown user %s", kind, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s credits: %w", kind, err)
	}
	return insertTransaction(ctx, db, userID, amount, balanceAfter, kind, generationID)
}

func insertTransaction(ctx context.Context, db DB, userID uuid.UUID, amount, balanceAfter int, kind string, generationID *uuid.UUID) (*models.CreditTransaction, error) {
	tx := models.CreditTransaction{
		ID:           uuid.New(),
		UserID:       userID,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Kind:         kind,
		GenerationID: generationID,
	}
	err := db.QueryRow(ctx,
		`INSERT INTO credit_transactions (id, user_id, amount, balance_after, kind, generation_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		tx.ID, tx.UserID, tx.Amount, tx.BalanceAfter, tx.Kind, tx.GenerationID,
	).Scan(&tx.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert credit transaction: %w", err)
	}
	return &tx, nil
}
