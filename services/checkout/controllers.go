package checkout

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	uuid "github.com/satori/go.uuid"

	errorutils "github.com/cartfront/checkout-go/libs/errors"
	"github.com/cartfront/checkout-go/libs/handlers"
	"github.com/cartfront/checkout-go/libs/inputs"
	"github.com/cartfront/checkout-go/libs/logging"
	"github.com/cartfront/checkout-go/libs/middleware"
	"github.com/cartfront/checkout-go/libs/requestutils"
)

func corsMiddleware(allowedMethods []string) func(next http.Handler) http.Handler {
	debug := os.Getenv("DEBUG") != ""
	return cors.Handler(cors.Options{
		Debug:            debug,
		AllowedOrigins:   strings.Split(os.Getenv("ALLOWED_ORIGINS"), ","),
		AllowedMethods:   allowedMethods,
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{""},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})
}

// Router for checkout endpoints
func Router(service *Service) chi.Router {
	r := chi.NewRouter()
	if os.Getenv("ALLOWED_ORIGINS") != "" {
		r.Use(corsMiddleware([]string{"GET", "POST"}))
	}
	r.Method("POST", "/checkout", middleware.InstrumentHandler("Checkout", Checkout(service)))
	r.Method("GET", "/orders/{orderID}", middleware.InstrumentHandler("GetOrder", GetOrder(service)))
	r.Method("GET", "/orders/{orderID}/transactions", middleware.InstrumentHandler("GetOrderTransactions", GetOrderTransactions(service)))
	r.Method("POST", "/webhooks/provider", middleware.InstrumentHandler("HandleWebhook", HandleWebhook(service)))
	return r
}

// CheckoutRequest includes the order details a buyer submits at checkout
type CheckoutRequest struct {
	BuyerID     string     `json:"buyerId" valid:"required"`
	SellerID    string     `json:"sellerId" valid:"required"`
	AmountCents int64      `json:"amountCents" valid:"-"`
	Currency    string     `json:"currency" valid:"alpha,length(3|3)"`
	BuyerTrust  BuyerTrust `json:"buyerTrust" valid:"in(trusted|new)"`
}

// WebhookRequest is the provider's asynchronous outcome notification
type WebhookRequest struct {
	EventID string    `json:"eventId" valid:"required"`
	OrderID uuid.UUID `json:"orderId" valid:"-"`
	Outcome string    `json:"outcome" valid:"in(PAID|FAILED)"`
}

// WebhookResponse acknowledges a delivery, duplicates included
type WebhookResponse struct {
	OK        bool `json:"ok"`
	Duplicate bool `json:"duplicate"`
}

// Checkout is the handler for running an idempotent checkout attempt
func Checkout(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		ctx := r.Context()

		key := requestutils.GetIdempotencyKey(r)
		if key == "" {
			return handlers.WrapError(errorutils.ErrMissingIdempotencyKey,
				"Idempotency-Key header is required", http.StatusBadRequest)
		}

		var req CheckoutRequest
		err := requestutils.ReadJSON(ctx, r.Body, &req)
		if err != nil {
			return handlers.WrapError(err, "Error in request body", http.StatusBadRequest)
		}

		_, err = govalidator.ValidateStruct(req)
		if err != nil {
			return handlers.WrapValidationError(err)
		}
		if req.AmountCents < 0 {
			return handlers.ValidationError("request body",
				map[string]interface{}{"amountCents": "must not be negative"})
		}

		result, err := service.Checkout(ctx, key, &req)
		if err != nil {
			switch {
			case errors.Is(err, errorutils.ErrIdempotencyKeyReuse):
				return handlers.WrapError(err, "Idempotency key reused with a different request", http.StatusBadRequest)
			case errors.Is(err, errorutils.ErrProviderUnavailable):
				return handlers.WrapError(err, "Payment provider unavailable, retry later", http.StatusServiceUnavailable)
			default:
				return handlers.WrapError(err, "Error running checkout", http.StatusInternalServerError)
			}
		}

		// replays must return the captured bytes unchanged
		return handlers.RenderRaw(ctx, result.Body, w, result.StatusCode)
	})
}

// GetOrder is the handler for getting an order
func GetOrder(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		ctx := r.Context()

		var orderID = new(inputs.ID)
		if err := inputs.DecodeAndValidateString(context.Background(), orderID, chi.URLParam(r, "orderID")); err != nil {
			return handlers.ValidationError(
				"request url parameter",
				map[string]interface{}{"orderID": err.Error()})
		}

		logging.AddOrderIDToContext(ctx, orderID.String())

		order, err := service.Datastore.GetOrder(ctx, *orderID.UUID())
		if err != nil {
			return handlers.WrapError(err, "Error retrieving the order", http.StatusInternalServerError)
		}
		if order == nil {
			return handlers.WrapError(errorutils.ErrNotFound, "order not found", http.StatusNotFound)
		}

		return handlers.RenderContent(ctx, order, w, http.StatusOK)
	})
}

// transactionView pairs a ledger transaction with its entry legs
type transactionView struct {
	LedgerTransaction
	Entries []LedgerEntry `json:"entries"`
}

// orderTransactionsResponse lists an order's ledger activity with the
// summed legs, which balance for every well formed order
type orderTransactionsResponse struct {
	Transactions []transactionView `json:"transactions"`
	Balance      *LedgerBalance    `json:"balance"`
}

// GetOrderTransactions is the handler for listing an order's ledger transactions
func GetOrderTransactions(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		ctx := r.Context()

		var orderID = new(inputs.ID)
		if err := inputs.DecodeAndValidateString(context.Background(), orderID, chi.URLParam(r, "orderID")); err != nil {
			return handlers.ValidationError(
				"request url parameter",
				map[string]interface{}{"orderID": err.Error()})
		}

		order, err := service.Datastore.GetOrder(ctx, *orderID.UUID())
		if err != nil {
			return handlers.WrapError(err, "Error retrieving the order", http.StatusInternalServerError)
		}
		if order == nil {
			return handlers.WrapError(errorutils.ErrNotFound, "order not found", http.StatusNotFound)
		}

		transactions, err := service.Datastore.GetOrderTransactions(ctx, order.ID)
		if err != nil {
			return handlers.WrapError(err, "Error retrieving order transactions", http.StatusInternalServerError)
		}

		resp := orderTransactionsResponse{Transactions: []transactionView{}}
		for _, transaction := range *transactions {
			entries, err := service.Datastore.GetTransactionEntries(ctx, transaction.ID)
			if err != nil {
				return handlers.WrapError(err, "Error retrieving transaction entries", http.StatusInternalServerError)
			}
			resp.Transactions = append(resp.Transactions, transactionView{
				LedgerTransaction: transaction,
				Entries:           *entries,
			})
		}

		if len(resp.Transactions) > 0 {
			balance, err := service.Datastore.GetLedgerBalance(ctx, order.ID)
			if err != nil {
				return handlers.WrapError(err, "Error retrieving ledger balance", http.StatusInternalServerError)
			}
			resp.Balance = balance
		}

		return handlers.RenderContent(ctx, resp, w, http.StatusOK)
	})
}

// HandleWebhook is the handler for provider outcome notifications. Repeat
// deliveries of an event id acknowledge success without side effects.
func HandleWebhook(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		ctx := r.Context()

		var req WebhookRequest
		err := requestutils.ReadJSON(ctx, r.Body, &req)
		if err != nil {
			return handlers.WrapError(err, "Error in request body", http.StatusBadRequest)
		}

		_, err = govalidator.ValidateStruct(req)
		if err != nil {
			return handlers.WrapValidationError(err)
		}
		if uuid.Equal(req.OrderID, uuid.Nil) {
			return handlers.ValidationError("request body",
				map[string]interface{}{"orderId": "must be a valid uuid"})
		}

		duplicate, err := service.ReconcileProviderEvent(ctx, &req)
		if err != nil {
			return handlers.WrapError(err, "Error reconciling webhook event", http.StatusInternalServerError)
		}

		return handlers.RenderContent(ctx, WebhookResponse{OK: true, Duplicate: duplicate}, w, http.StatusOK)
	})
}
