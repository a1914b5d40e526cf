package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const fundingsSchema = `
CREATE TABLE IF NOT EXISTS fundings (
    id                  TEXT PRIMARY KEY,
    event_received      BOOLEAN NOT NULL DEFAULT FALSE,
    currency_code       TEXT,
    fiat_amount         BIGINT,
    tx_sender           TEXT,
    card_token          TEXT,
    card_last_four      TEXT,
    card_exp_month      TEXT,
    card_exp_year       TEXT,
    card_state          TEXT,
    card_pan            TEXT,
    card_cvv            TEXT,
    authorization_token TEXT,
    cleared             BOOLEAN NOT NULL DEFAULT FALSE,
    clearing_debug_id   TEXT,
    created_at          TIMESTAMPTZ NOT NULL,
    updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS fundings_event_received_idx ON fundings (event_received);
CREATE INDEX IF NOT EXISTS fundings_tx_sender_idx ON fundings (tx_sender);
CREATE INDEX IF NOT EXISTS fundings_card_token_idx ON fundings (card_token);`

const selectFunding = `
SELECT id, event_received, COALESCE(currency_code, ''), COALESCE(fiat_amount, 0), COALESCE(tx_sender, ''),
       COALESCE(card_token, ''), COALESCE(card_last_four, ''), COALESCE(card_exp_month, ''),
       COALESCE(card_exp_year, ''), COALESCE(card_state, ''), COALESCE(card_pan, ''), COALESCE(card_cvv, ''),
       COALESCE(authorization_token, ''), cleared, COALESCE(clearing_debug_id, ''), created_at, updated_at
FROM fundings WHERE id = $1`

// PostgresLedger persists funding records in PostgreSQL using row-level locks.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureSchema creates the fundings table when it does not exist yet.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, fundingsSchema); err != nil {
		return fmt.Errorf("create fundings schema: %w", err)
	}
	return nil
}

// Create inserts a funding record.
func (l *PostgresLedger) Create(ctx context.Context, funding Funding) error {
	now := time.Now().UTC()
	if funding.CreatedAt.IsZero() {
		funding.CreatedAt = now
	}
	if funding.UpdatedAt.IsZero() {
		funding.UpdatedAt = funding.CreatedAt
	}
	const insert = `
        INSERT INTO fundings (
            id, event_received, currency_code, fiat_amount, tx_sender,
            card_token, card_last_four, card_exp_month, card_exp_year, card_state, card_pan, card_cvv,
            authorization_token, cleared, clearing_debug_id, updated_at, created_at
        ) VALUES (
            $1, $2, NULLIF($3, ''), $4, NULLIF($5, ''),
            NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''),
            NULLIF($13, ''), $14, NULLIF($15, ''), $16, $17
        )`
	args := append(fundingArgs(funding), funding.CreatedAt)
	if _, err := l.db.Exec(ctx, insert, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateFunding
		}
		return err
	}
	return nil
}

// Get fetches a funding record by identifier.
func (l *PostgresLedger) Get(ctx context.Context, id string) (Funding, error) {
	return scanFunding(l.db.QueryRow(ctx, selectFunding, id))
}

// Mutate loads the record with SELECT ... FOR UPDATE, applies fn and commits.
func (l *PostgresLedger) Mutate(ctx context.Context, id string, upsert bool, fn MutateFunc) (Funding, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Funding{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if upsert {
		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `INSERT INTO fundings (id, created_at, updated_at) VALUES ($1, $2, $2)
            ON CONFLICT (id) DO NOTHING`, id, now); err != nil {
			return Funding{}, err
		}
	}

	funding, err := scanFunding(tx.QueryRow(ctx, selectFunding+` FOR UPDATE`, id))
	if err != nil {
		return Funding{}, err
	}

	if err := fn(&funding); err != nil {
		return Funding{}, err
	}
	funding.ID = id
	funding.UpdatedAt = time.Now().UTC()

	const update = `
        UPDATE fundings SET
            event_received = $2, currency_code = NULLIF($3, ''), fiat_amount = $4, tx_sender = NULLIF($5, ''),
            card_token = NULLIF($6, ''), card_last_four = NULLIF($7, ''), card_exp_month = NULLIF($8, ''),
            card_exp_year = NULLIF($9, ''), card_state = NULLIF($10, ''), card_pan = NULLIF($11, ''),
            card_cvv = NULLIF($12, ''), authorization_token = NULLIF($13, ''), cleared = $14,
            clearing_debug_id = NULLIF($15, ''), updated_at = $16
        WHERE id = $1`
	if _, err := tx.Exec(ctx, update, fundingArgs(funding)...); err != nil {
		return Funding{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Funding{}, err
	}
	return funding, nil
}

func scanFunding(row pgx.Row) (Funding, error) {
	var f Funding
	err := row.Scan(
		&f.ID, &f.EventReceived, &f.CurrencyCode, &f.FiatAmount, &f.TxSender,
		&f.CardToken, &f.CardLastFour, &f.CardExpMonth,
		&f.CardExpYear, &f.CardState, &f.CardPAN, &f.CardCVV,
		&f.AuthorizationToken, &f.Cleared, &f.ClearingDebugID, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Funding{}, ErrFundingNotFound
		}
		return Funding{}, err
	}
	f.CreatedAt = f.CreatedAt.UTC()
	f.UpdatedAt = f.UpdatedAt.UTC()
	return f, nil
}

// fundingArgs returns the column values in the order shared by the insert and
// update statements ($1..$16).
func fundingArgs(f Funding) []any {
	var amount *int64
	if f.EventReceived {
		amount = &f.FiatAmount
	}
	return []any{
		f.ID, f.EventReceived, f.CurrencyCode, amount, f.TxSender,
		f.CardToken, f.CardLastFour, f.CardExpMonth, f.CardExpYear, f.CardState, f.CardPAN, f.CardCVV,
		f.AuthorizationToken, f.Cleared, f.ClearingDebugID, f.UpdatedAt,
	}
}
