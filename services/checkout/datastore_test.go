//go:build integration

package checkout

import (
	"context"
	"net/http"
	"testing"

	uuid "github.com/satori/go.uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type PostgresTestSuite struct {
	suite.Suite
	ds Datastore
}

func TestPostgresTestSuite(t *testing.T) {
	suite.Run(t, new(PostgresTestSuite))
}

func (suite *PostgresTestSuite) SetupSuite() {
	pg, err := NewPostgres("", false)
	suite.Require().NoError(err, "Failed to get postgres conn")

	m, err := pg.NewMigrate()
	suite.Require().NoError(err, "Failed to create migrate instance")

	ver, dirty, _ := m.Version()
	if dirty {
		suite.Require().NoError(m.Force(int(ver)))
	}
	if ver > 0 {
		suite.Require().NoError(m.Down(), "Failed to migrate down cleanly")
	}

	suite.Require().NoError(pg.Migrate(), "Failed to fully migrate")
	suite.ds = pg
}

func (suite *PostgresTestSuite) SetupTest() {
	suite.CleanDB()
}

func (suite *PostgresTestSuite) TearDownTest() {
	suite.CleanDB()
}

func (suite *PostgresTestSuite) CleanDB() {
	tables := []string{"ledger_entries", "ledger_transactions", "webhook_events", "idempotency_keys", "orders"}

	for _, table := range tables {
		_, err := suite.ds.RawDB().Exec("delete from " + table)
		suite.Require().NoError(err, "Failed to get clean table")
	}
}

func (suite *PostgresTestSuite) pendingOrder(amountCents int64) *Order {
	return &Order{
		ID:          uuid.NewV4(),
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		AmountCents: amountCents,
		Currency:    "USD",
		BuyerTrust:  BuyerTrustTrusted,
		Status:      OrderStatusPendingPayment,
		ReadyToShip: false,
	}
}

func (suite *PostgresTestSuite) reserveKey(key string) {
	_, outcome, err := suite.ds.BeginOrReplayIdempotency(context.Background(), key, "hash-1")
	suite.Require().NoError(err)
	suite.Require().Equal(IdempotencyProceed, outcome)
}

func (suite *PostgresTestSuite) TestCreateOrderAndFinalizePaidWritesLedger() {
	ctx := context.Background()
	suite.reserveKey("key-1")

	order := suite.pendingOrder(1299)
	order.Status = OrderStatusPaid
	order.ReadyToShip = true

	created, err := suite.ds.CreateOrderAndFinalize(ctx, order, "key-1", http.StatusOK, []byte(`{"ok":true}`))
	suite.Require().NoError(err)
	suite.Require().NotNil(created)
	suite.Assert().Equal(OrderStatusPaid, created.Status)
	suite.Assert().True(created.ReadyToShip)

	transactions, err := suite.ds.GetOrderTransactions(ctx, created.ID)
	suite.Require().NoError(err)
	suite.Require().Len(*transactions, 1)
	suite.Assert().Equal(LedgerKindCharge, (*transactions)[0].Kind)
	suite.Assert().Equal(int64(1299), (*transactions)[0].AmountCents)

	entries, err := suite.ds.GetTransactionEntries(ctx, (*transactions)[0].ID)
	suite.Require().NoError(err)
	suite.Require().Len(*entries, 2)

	balance, err := suite.ds.GetLedgerBalance(ctx, created.ID)
	suite.Require().NoError(err)
	suite.Assert().True(balance.DebitsCents.Equal(decimal.NewFromInt(1299)))
	suite.Assert().True(balance.DebitsCents.Equal(balance.CreditsCents))

	// the key replays afterwards with the captured bytes, untouched
	record, outcome, err := suite.ds.BeginOrReplayIdempotency(ctx, "key-1", "hash-1")
	suite.Require().NoError(err)
	suite.Assert().Equal(IdempotencyReplay, outcome)
	suite.Assert().Equal([]byte(`{"ok":true}`), record.ResponseBody)
}

func (suite *PostgresTestSuite) TestCreateOrderAndFinalizeLosesRaceRollsBack() {
	ctx := context.Background()
	suite.reserveKey("key-1")
	suite.Require().NoError(suite.ds.FinalizeIdempotency(ctx, "key-1", http.StatusOK, []byte(`{"winner":true}`)))

	order := suite.pendingOrder(100)
	created, err := suite.ds.CreateOrderAndFinalize(ctx, order, "key-1", http.StatusOK, []byte(`{"loser":true}`))
	suite.Require().NoError(err)
	suite.Assert().Nil(created)

	// the losing order never committed
	stored, err := suite.ds.GetOrder(ctx, order.ID)
	suite.Require().NoError(err)
	suite.Assert().Nil(stored)
}

func (suite *PostgresTestSuite) TestRecordChargeIsAtMostOnce() {
	ctx := context.Background()
	suite.reserveKey("key-1")

	order := suite.pendingOrder(500)
	order.Status = OrderStatusPaid
	order.ReadyToShip = true
	created, err := suite.ds.CreateOrderAndFinalize(ctx, order, "key-1", http.StatusOK, []byte(`{}`))
	suite.Require().NoError(err)

	// already recorded during creation, repeats change nothing
	suite.Require().NoError(suite.ds.RecordCharge(ctx, created.ID))
	suite.Require().NoError(suite.ds.RecordCharge(ctx, created.ID))

	transactions, err := suite.ds.GetOrderTransactions(ctx, created.ID)
	suite.Require().NoError(err)
	suite.Assert().Len(*transactions, 1)
}

func (suite *PostgresTestSuite) TestRecordChargeIgnoresMissingAndUnpaidOrders() {
	ctx := context.Background()

	// unknown order is a silent no-op
	suite.Require().NoError(suite.ds.RecordCharge(ctx, uuid.NewV4()))

	suite.reserveKey("key-1")
	order := suite.pendingOrder(500)
	created, err := suite.ds.CreateOrderAndFinalize(ctx, order, "key-1", http.StatusOK, []byte(`{}`))
	suite.Require().NoError(err)

	suite.Require().NoError(suite.ds.RecordCharge(ctx, created.ID))
	transactions, err := suite.ds.GetOrderTransactions(ctx, created.ID)
	suite.Require().NoError(err)
	suite.Assert().Empty(*transactions)
}

func (suite *PostgresTestSuite) TestReconcileWebhookEventLifecycle() {
	ctx := context.Background()
	suite.reserveKey("key-1")

	order := suite.pendingOrder(750)
	created, err := suite.ds.CreateOrderAndFinalize(ctx, order, "key-1", http.StatusOK, []byte(`{}`))
	suite.Require().NoError(err)

	event := &WebhookEvent{
		EventID: "evt-1",
		OrderID: created.ID,
		Outcome: "PAID",
		Payload: []byte(`{"eventId":"evt-1"}`),
	}

	duplicate, err := suite.ds.ReconcileWebhookEvent(ctx, event)
	suite.Require().NoError(err)
	suite.Assert().False(duplicate)

	stored, err := suite.ds.GetOrder(ctx, created.ID)
	suite.Require().NoError(err)
	suite.Assert().Equal(OrderStatusPaid, stored.Status)
	suite.Assert().True(stored.ReadyToShip)

	transactions, err := suite.ds.GetOrderTransactions(ctx, created.ID)
	suite.Require().NoError(err)
	suite.Assert().Len(*transactions, 1)

	// redelivery: no new side effects
	duplicate, err = suite.ds.ReconcileWebhookEvent(ctx, event)
	suite.Require().NoError(err)
	suite.Assert().True(duplicate)
	transactions, err = suite.ds.GetOrderTransactions(ctx, created.ID)
	suite.Require().NoError(err)
	suite.Assert().Len(*transactions, 1)

	// a contradictory event with a fresh id cannot move the terminal state
	contradiction := &WebhookEvent{
		EventID: "evt-2",
		OrderID: created.ID,
		Outcome: "FAILED",
		Payload: []byte(`{"eventId":"evt-2"}`),
	}
	duplicate, err = suite.ds.ReconcileWebhookEvent(ctx, contradiction)
	suite.Require().NoError(err)
	suite.Assert().False(duplicate)

	stored, err = suite.ds.GetOrder(ctx, created.ID)
	suite.Require().NoError(err)
	suite.Assert().Equal(OrderStatusPaid, stored.Status)
}

func (suite *PostgresTestSuite) TestReconcileWebhookEventForUnknownOrder() {
	ctx := context.Background()

	// the event is durably recorded even when the order is unknown
	duplicate, err := suite.ds.ReconcileWebhookEvent(ctx, &WebhookEvent{
		EventID: "evt-unknown",
		OrderID: uuid.NewV4(),
		Outcome: "PAID",
		Payload: []byte(`{}`),
	})
	suite.Require().NoError(err)
	suite.Assert().False(duplicate)

	duplicate, err = suite.ds.ReconcileWebhookEvent(ctx, &WebhookEvent{
		EventID: "evt-unknown",
		OrderID: uuid.NewV4(),
		Outcome: "PAID",
		Payload: []byte(`{}`),
	})
	suite.Require().NoError(err)
	suite.Assert().True(duplicate)
}
