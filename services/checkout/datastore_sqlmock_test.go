package checkout

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartfront/checkout-go/libs/datastore"
)

func mockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock, func()) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	cleanup := func() {
		if err := mockDB.Close(); err != nil {
			if !strings.Contains(err.Error(), "all expectations were already fulfilled") {
				t.Errorf("failed to close the mock database: %s", err)
			}
		}
	}

	// inject our mock db into our postgres
	pg := &Postgres{Postgres: datastore.Postgres{DB: sqlx.NewDb(mockDB, "sqlmock")}}
	return pg, mock, cleanup
}

func TestBeginOrReplayIdempotencyReservesNewKey(t *testing.T) {
	pg, mock, cleanup := mockPostgres(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO idempotency_keys (.+) ON CONFLICT \(idem_key\) DO NOTHING`).
		WithArgs("key-1", "hash-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT (.+) FROM idempotency_keys WHERE idem_key = (.+)`).
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"idem_key", "request_hash", "response_status", "response_body", "created_at", "updated_at"}).
			AddRow("key-1", "hash-1", nil, nil, time.Now(), time.Now()))

	record, outcome, err := pg.BeginOrReplayIdempotency(context.Background(), "key-1", "hash-1")
	require.NoError(t, err)
	assert.Equal(t, IdempotencyProceed, outcome)
	assert.False(t, record.Finalized())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginOrReplayIdempotencyReplaysFinalizedKey(t *testing.T) {
	pg, mock, cleanup := mockPostgres(t)
	defer cleanup()

	body := []byte(`{"orderId":"x","status":"PAID","readyToShip":true}`)
	mock.ExpectExec(`INSERT INTO idempotency_keys (.+) ON CONFLICT \(idem_key\) DO NOTHING`).
		WithArgs("key-1", "hash-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT (.+) FROM idempotency_keys WHERE idem_key = (.+)`).
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"idem_key", "request_hash", "response_status", "response_body", "created_at", "updated_at"}).
			AddRow("key-1", "hash-1", 200, body, time.Now(), time.Now()))

	record, outcome, err := pg.BeginOrReplayIdempotency(context.Background(), "key-1", "hash-1")
	require.NoError(t, err)
	assert.Equal(t, IdempotencyReplay, outcome)
	require.NotNil(t, record.ResponseStatus)
	assert.Equal(t, 200, *record.ResponseStatus)
	assert.Equal(t, body, record.ResponseBody)
}

func TestBeginOrReplayIdempotencyConflictsOnHashMismatch(t *testing.T) {
	pg, mock, cleanup := mockPostgres(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO idempotency_keys (.+) ON CONFLICT \(idem_key\) DO NOTHING`).
		WithArgs("key-1", "hash-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT (.+) FROM idempotency_keys WHERE idem_key = (.+)`).
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"idem_key", "request_hash", "response_status", "response_body", "created_at", "updated_at"}).
			AddRow("key-1", "hash-1", nil, nil, time.Now(), time.Now()))

	_, outcome, err := pg.BeginOrReplayIdempotency(context.Background(), "key-1", "hash-2")
	require.NoError(t, err)
	assert.Equal(t, IdempotencyConflict, outcome)
}

func TestFinalizeIdempotencyLosingRaceIsNotAnError(t *testing.T) {
	pg, mock, cleanup := mockPostgres(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE idempotency_keys SET (.+) WHERE idem_key = (.+) AND response_status IS NULL`).
		WithArgs("key-1", 200, []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT (.+) FROM idempotency_keys WHERE idem_key = (.+)`).
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows(
			[]string{"idem_key", "request_hash", "response_status", "response_body", "created_at", "updated_at"}).
			AddRow("key-1", "hash-1", 200, []byte(`{"winner":true}`), time.Now(), time.Now()))

	err := pg.FinalizeIdempotency(context.Background(), "key-1", 200, []byte(`{}`))
	assert.NoError(t, err)
}

func TestGetOrderNotFoundReturnsNil(t *testing.T) {
	pg, mock, cleanup := mockPostgres(t)
	defer cleanup()

	orderID := uuid.NewV4()
	mock.ExpectQuery(`SELECT \* FROM orders WHERE id = (.+)`).
		WithArgs(orderID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	order, err := pg.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestReconcileWebhookEventDuplicateShortCircuits(t *testing.T) {
	pg, mock, cleanup := mockPostgres(t)
	defer cleanup()

	orderID := uuid.NewV4()
	event := &WebhookEvent{EventID: "evt-1", OrderID: orderID, Outcome: "PAID", Payload: []byte(`{}`)}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO webhook_events (.+) ON CONFLICT \(event_id\) DO NOTHING`).
		WithArgs("evt-1", orderID, "PAID", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	duplicate, err := pg.ReconcileWebhookEvent(context.Background(), event)
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}
