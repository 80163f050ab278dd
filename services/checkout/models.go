package checkout

import (
	"time"

	uuid "github.com/satori/go.uuid"
)

// OrderStatus - the payment state of an order
type OrderStatus string

const (
	// OrderStatusPendingPayment - the order was admitted during a provider outage and awaits reconciliation
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	// OrderStatusPaid - the order has been paid, terminal
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusFailed - the order payment failed, terminal
	OrderStatusFailed OrderStatus = "FAILED"
)

// IsTerminal - a terminal status never transitions again
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusFailed
}

// CanTransitionTo - the one way order state machine, PENDING_PAYMENT may
// resolve to either terminal state and nothing leaves a terminal state
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s != OrderStatusPendingPayment {
		return false
	}
	return next == OrderStatusPaid || next == OrderStatusFailed
}

// BuyerTrust - trust tier assigned to the buyer
type BuyerTrust string

const (
	// BuyerTrustTrusted - buyers with history, eligible for outage admission
	BuyerTrustTrusted BuyerTrust = "trusted"
	// BuyerTrustNew - buyers without history
	BuyerTrustNew BuyerTrust = "new"
)

// Order contains the details of a checkout order
type Order struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	BuyerID     string      `json:"buyerId" db:"buyer_id"`
	SellerID    string      `json:"sellerId" db:"seller_id"`
	AmountCents int64       `json:"amountCents" db:"amount_cents"`
	Currency    string      `json:"currency" db:"currency"`
	BuyerTrust  BuyerTrust  `json:"buyerTrust" db:"buyer_trust"`
	Status      OrderStatus `json:"status" db:"status"`
	ReadyToShip bool        `json:"readyToShip" db:"ready_to_ship"`
	CreatedAt   time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time   `json:"updatedAt" db:"updated_at"`
}

// IsPaid - has this order been paid for
func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusPaid
}

const (
	// LedgerKindCharge - the transaction kind for a checkout charge
	LedgerKindCharge = "CHARGE"
	// LedgerAccountCash - the cash asset account
	LedgerAccountCash = "cash"
	// LedgerAccountSellerPayable - the liability account owed to the seller
	LedgerAccountSellerPayable = "seller_payable"
	// LedgerDirectionDebit - debit entry direction
	LedgerDirectionDebit = "DEBIT"
	// LedgerDirectionCredit - credit entry direction
	LedgerDirectionCredit = "CREDIT"
)

// LedgerTransaction - a double entry bookkeeping unit tied to an order
type LedgerTransaction struct {
	ID          uuid.UUID `json:"id" db:"id"`
	OrderID     uuid.UUID `json:"orderId" db:"order_id"`
	Kind        string    `json:"kind" db:"kind"`
	Currency    string    `json:"currency" db:"currency"`
	AmountCents int64     `json:"amountCents" db:"amount_cents"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// LedgerEntry - a single leg of a ledger transaction, entries within a
// transaction must balance per currency
type LedgerEntry struct {
	ID            uuid.UUID `json:"id" db:"id"`
	TransactionID uuid.UUID `json:"transactionId" db:"transaction_id"`
	Account       string    `json:"account" db:"account"`
	Direction     string    `json:"direction" db:"direction"`
	Currency      string    `json:"currency" db:"currency"`
	AmountCents   int64     `json:"amountCents" db:"amount_cents"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// WebhookEvent - a provider callback, deduplicated on the provider supplied event id
type WebhookEvent struct {
	EventID     string     `json:"eventId" db:"event_id"`
	OrderID     uuid.UUID  `json:"orderId" db:"order_id"`
	Outcome     string     `json:"outcome" db:"outcome"`
	Payload     []byte     `json:"-" db:"payload"`
	ReceivedAt  time.Time  `json:"receivedAt" db:"received_at"`
	ProcessedAt *time.Time `json:"processedAt" db:"processed_at"`
}

// IdempotencyRecord - maps a caller supplied key and request fingerprint to
// the response captured for the first execution
type IdempotencyRecord struct {
	Key            string    `json:"key" db:"idem_key"`
	RequestHash    string    `json:"requestHash" db:"request_hash"`
	ResponseStatus *int      `json:"responseStatus" db:"response_status"`
	ResponseBody   []byte    `json:"responseBody" db:"response_body"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}

// Finalized - a record with a captured response replays instead of re-executing
func (r *IdempotencyRecord) Finalized() bool {
	return r.ResponseStatus != nil && r.ResponseBody != nil
}
