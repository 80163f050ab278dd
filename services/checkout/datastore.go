package checkout

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	uuid "github.com/satori/go.uuid"
	"github.com/shopspring/decimal"

	"github.com/cartfront/checkout-go/libs/datastore"

	// needed for magic migration
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// IdempotencyOutcome - what the registry decided for a key
type IdempotencyOutcome string

const (
	// IdempotencyReplay - a finalized response exists, return it verbatim
	IdempotencyReplay IdempotencyOutcome = "replay"
	// IdempotencyConflict - the key was reused with a different request body
	IdempotencyConflict IdempotencyOutcome = "conflict"
	// IdempotencyProceed - the key is reserved for this request, execute fresh logic
	IdempotencyProceed IdempotencyOutcome = "proceed"
)

// LedgerBalance - summed entry legs for an order, used to verify balance
type LedgerBalance struct {
	DebitsCents  decimal.Decimal `json:"debitsCents" db:"debits"`
	CreditsCents decimal.Decimal `json:"creditsCents" db:"credits"`
}

// Datastore abstracts over the underlying datastore
type Datastore interface {
	datastore.Datastore
	// CreateOrderAndFinalize creates an order in the decided status, writing
	// the ledger charge and the idempotency response capture in the same
	// transaction
	CreateOrderAndFinalize(ctx context.Context, order *Order, key string, statusCode int, responseBody []byte) (*Order, error)
	// GetOrder by ID
	GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error)
	// BeginOrReplayIdempotency reserves the key or returns the prior outcome
	BeginOrReplayIdempotency(ctx context.Context, key, requestHash string) (*IdempotencyRecord, IdempotencyOutcome, error)
	// FinalizeIdempotency captures the response for a reserved key exactly once
	FinalizeIdempotency(ctx context.Context, key string, statusCode int, body []byte) error
	// RecordCharge writes the balanced double entry ledger records for a paid order
	RecordCharge(ctx context.Context, orderID uuid.UUID) error
	// ReconcileWebhookEvent records the event and applies its order effect,
	// returning true when the event id was already seen
	ReconcileWebhookEvent(ctx context.Context, event *WebhookEvent) (bool, error)
	// GetOrderTransactions returns the ledger transactions for an order
	GetOrderTransactions(ctx context.Context, orderID uuid.UUID) (*[]LedgerTransaction, error)
	// GetTransactionEntries returns the entry legs of a ledger transaction
	GetTransactionEntries(ctx context.Context, transactionID uuid.UUID) (*[]LedgerEntry, error)
	// GetLedgerBalance sums debit and credit legs for an order
	GetLedgerBalance(ctx context.Context, orderID uuid.UUID) (*LedgerBalance, error)
}

// Postgres is a Datastore wrapper around a postgres database
type Postgres struct {
	datastore.Postgres
}

// NewPostgres creates a new Postgres Datastore
func NewPostgres(databaseURL string, performMigration bool) (Datastore, error) {
	pg, err := datastore.NewPostgres(databaseURL, performMigration)
	if pg != nil {
		return &Postgres{*pg}, err
	}
	return nil, err
}

// isUniqueViolation - postgres unique constraint violation
func isUniqueViolation(err error) bool {
	var pgErr *pq.Error
	return errors.As(err, &pgErr) && pgErr.Code == pq.ErrorCode("23505")
}

// CreateOrderAndFinalize creates an order in the decided status. The ledger
// charge for a paid order and the idempotency response capture commit in the
// same database transaction, no reader ever observes a paid order without
// its ledger records or a captured response without its order. When another
// request finalized the key first the whole transaction rolls back and
// (nil, nil) is returned, the winner's captured response stands alone.
func (pg *Postgres) CreateOrderAndFinalize(ctx context.Context, order *Order, key string, statusCode int, responseBody []byte) (*Order, error) {
	tx, err := pg.BeginTx()
	if err != nil {
		return nil, err
	}
	defer pg.RollbackTx(tx)

	var created Order
	err = tx.GetContext(ctx, &created, `
		INSERT INTO orders (id, buyer_id, seller_id, amount_cents, currency, buyer_trust, status, ready_to_ship)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *`,
		order.ID, order.BuyerID, order.SellerID, order.AmountCents, order.Currency,
		order.BuyerTrust, order.Status, order.ReadyToShip)
	if err != nil {
		return nil, err
	}

	if created.IsPaid() {
		if err := recordChargeInTx(ctx, tx, created.ID); err != nil {
			return nil, err
		}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET response_status = $2, response_body = $3, updated_at = now()
		WHERE idem_key = $1 AND response_status IS NULL`,
		key, statusCode, responseBody)
	if err != nil {
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &created, nil
}

// GetOrder queries the database and returns an order
func (pg *Postgres) GetOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	order := Order{}
	err := pg.RawDB().GetContext(ctx, &order, `SELECT * FROM orders WHERE id = $1`, orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &order, nil
}

// BeginOrReplayIdempotency reserves the key with this request hash, or
// classifies the existing record. The reserve is an atomic upsert against
// the key's uniqueness constraint rather than a check then act pair.
// A reserved but never finalized key proceeds again: a crash between
// reserve and finalize must not permanently block retries, at the accepted
// cost of re-running the provider call in that narrow window.
func (pg *Postgres) BeginOrReplayIdempotency(ctx context.Context, key, requestHash string) (*IdempotencyRecord, IdempotencyOutcome, error) {
	_, err := pg.RawDB().ExecContext(ctx, `
		INSERT INTO idempotency_keys (idem_key, request_hash)
		VALUES ($1, $2)
		ON CONFLICT (idem_key) DO NOTHING`,
		key, requestHash)
	if err != nil && !isUniqueViolation(err) {
		return nil, "", err
	}

	var record IdempotencyRecord
	err = pg.RawDB().GetContext(ctx, &record, `
		SELECT idem_key, request_hash, response_status, response_body, created_at, updated_at
		FROM idempotency_keys WHERE idem_key = $1`, key)
	if err != nil {
		return nil, "", err
	}

	if record.RequestHash != requestHash {
		return &record, IdempotencyConflict, nil
	}
	if record.Finalized() {
		return &record, IdempotencyReplay, nil
	}
	return &record, IdempotencyProceed, nil
}

// FinalizeIdempotency captures the response exactly once. Losing the race
// to another finalizer is not an error, the captured response is immutable
// either way.
func (pg *Postgres) FinalizeIdempotency(ctx context.Context, key string, statusCode int, body []byte) error {
	result, err := pg.RawDB().ExecContext(ctx, `
		UPDATE idempotency_keys
		SET response_status = $2, response_body = $3, updated_at = now()
		WHERE idem_key = $1 AND response_status IS NULL`,
		key, statusCode, body)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	// zero rows means someone else captured a response first
	var record IdempotencyRecord
	err = pg.RawDB().GetContext(ctx, &record, `
		SELECT idem_key, request_hash, response_status, response_body, created_at, updated_at
		FROM idempotency_keys WHERE idem_key = $1`, key)
	if err != nil {
		return err
	}
	if record.Finalized() {
		return nil
	}
	return errors.New("failed to finalize idempotency key")
}

// recordChargeInTx writes the balanced double entry records for a paid
// order inside the caller's transaction. Reads the order under lock, no-ops
// unless it exists and is paid, and relies on the (order_id, kind)
// uniqueness constraint to stay at most once under concurrent invocation.
func recordChargeInTx(ctx context.Context, tx *sqlx.Tx, orderID uuid.UUID) error {
	var order Order
	err := tx.GetContext(ctx, &order, `SELECT * FROM orders WHERE id = $1 FOR UPDATE`, orderID)
	if err == sql.ErrNoRows {
		return nil
	} else if err != nil {
		return err
	}

	if !order.IsPaid() {
		return nil
	}

	var transactionID uuid.UUID
	err = tx.GetContext(ctx, &transactionID, `
		INSERT INTO ledger_transactions (order_id, kind, currency, amount_cents)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id, kind) DO NOTHING
		RETURNING id`,
		order.ID, LedgerKindCharge, order.Currency, order.AmountCents)
	if err == sql.ErrNoRows || isUniqueViolation(err) {
		// the charge was already recorded, a genuine duplicate is already done
		return nil
	} else if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (transaction_id, account, direction, currency, amount_cents)
		VALUES ($1, $2, $3, $4, $5), ($1, $6, $7, $4, $5)`,
		transactionID,
		LedgerAccountCash, LedgerDirectionDebit,
		order.Currency, order.AmountCents,
		LedgerAccountSellerPayable, LedgerDirectionCredit)
	return err
}

// RecordCharge writes the ledger charge for a paid order in its own
// transaction. Callers invoke it when they believe the order just became
// paid, a retry or a miss is a silent no-op.
func (pg *Postgres) RecordCharge(ctx context.Context, orderID uuid.UUID) error {
	tx, err := pg.BeginTx()
	if err != nil {
		return err
	}
	defer pg.RollbackTx(tx)

	if err := recordChargeInTx(ctx, tx, orderID); err != nil {
		return err
	}

	return tx.Commit()
}

// ReconcileWebhookEvent records the event and applies the order effect in a
// single transaction. The event insert is the dedupe barrier: a second
// delivery of the same event id changes nothing and reports duplicate.
func (pg *Postgres) ReconcileWebhookEvent(ctx context.Context, event *WebhookEvent) (bool, error) {
	tx, err := pg.BeginTx()
	if err != nil {
		return false, err
	}
	defer pg.RollbackTx(tx)

	result, err := tx.ExecContext(ctx, `
		INSERT INTO webhook_events (event_id, order_id, outcome, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.OrderID, event.Outcome, event.Payload)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		// already seen this event id
		if err := tx.Commit(); err != nil {
			return false, err
		}
		return true, nil
	}

	status := OrderStatusFailed
	if event.Outcome == string(OrderStatusPaid) {
		status = OrderStatusPaid
	}

	// transitions only move pending orders, terminal states never change
	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, ready_to_ship = $3, updated_at = now()
		WHERE id = $1 AND status = $4`,
		event.OrderID, status, status == OrderStatusPaid, OrderStatusPendingPayment)
	if err != nil {
		return false, err
	}

	if status == OrderStatusPaid {
		if err := recordChargeInTx(ctx, tx, event.OrderID); err != nil {
			return false, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE webhook_events SET processed_at = now() WHERE event_id = $1`,
		event.EventID)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	return false, nil
}

// GetOrderTransactions returns all the ledger transactions for an order
func (pg *Postgres) GetOrderTransactions(ctx context.Context, orderID uuid.UUID) (*[]LedgerTransaction, error) {
	transactions := []LedgerTransaction{}
	err := pg.RawDB().SelectContext(ctx, &transactions, `
		SELECT * FROM ledger_transactions WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	return &transactions, nil
}

// GetTransactionEntries returns the entry legs of a ledger transaction
func (pg *Postgres) GetTransactionEntries(ctx context.Context, transactionID uuid.UUID) (*[]LedgerEntry, error) {
	entries := []LedgerEntry{}
	err := pg.RawDB().SelectContext(ctx, &entries, `
		SELECT * FROM ledger_entries WHERE transaction_id = $1 ORDER BY direction`, transactionID)
	if err != nil {
		return nil, err
	}
	return &entries, nil
}

// GetLedgerBalance gets the summed debit and credit legs for an order,
// which must be equal for every order that has a ledger transaction
func (pg *Postgres) GetLedgerBalance(ctx context.Context, orderID uuid.UUID) (*LedgerBalance, error) {
	var balance LedgerBalance
	err := pg.RawDB().GetContext(ctx, &balance, `
		SELECT
			COALESCE(SUM(CASE WHEN e.direction = 'DEBIT' THEN e.amount_cents ELSE 0 END), 0) AS debits,
			COALESCE(SUM(CASE WHEN e.direction = 'CREDIT' THEN e.amount_cents ELSE 0 END), 0) AS credits
		FROM ledger_entries e
		INNER JOIN ledger_transactions t ON t.id = e.transaction_id
		WHERE t.order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}
	return &balance, nil
}
