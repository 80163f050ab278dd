package checkout

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	uuid "github.com/satori/go.uuid"

	appctx "github.com/cartfront/checkout-go/libs/context"
	errorutils "github.com/cartfront/checkout-go/libs/errors"
	"github.com/cartfront/checkout-go/libs/logging"

	"github.com/cartfront/checkout-go/libs/clients/provider"
)

// Config holds the tunables the checkout service needs at runtime
type Config struct {
	// ProviderTimeout bounds the wait on a provider charge call
	ProviderTimeout time.Duration
	// OutagePendingCapCents is the largest amount admitted as pending while
	// the provider is unreachable
	OutagePendingCapCents int64
}

// Service contains datastore and provider client connections
type Service struct {
	Datastore Datastore
	provider  provider.Client
	cfg       Config
}

// InitService creates a service using the passed datastore and provider
// client. A nil provider client is constructed from context configuration.
func InitService(ctx context.Context, datastore Datastore, providerClient provider.Client) (*Service, error) {
	providerTimeout, err := appctx.GetDurationFromContext(ctx, appctx.ProviderTimeoutCTXKey)
	if err != nil {
		return nil, errorutils.Wrap(err, "provider timeout is not configured")
	}
	outageCap, err := appctx.GetInt64FromContext(ctx, appctx.OutagePendingCapCTXKey)
	if err != nil {
		return nil, errorutils.Wrap(err, "outage pending cap is not configured")
	}

	if providerClient == nil {
		providerClient, err = provider.NewWithContext(ctx)
		if err != nil {
			return nil, errorutils.Wrap(err, "failed to initialize provider client")
		}
	}

	return &Service{
		Datastore: datastore,
		provider:  providerClient,
		cfg: Config{
			ProviderTimeout:       providerTimeout,
			OutagePendingCapCents: outageCap,
		},
	}, nil
}

// CheckoutResponse is the captured checkout outcome returned to callers.
// Replays return these exact bytes again, so the shape must stay stable.
type CheckoutResponse struct {
	OrderID     uuid.UUID   `json:"orderId"`
	Status      OrderStatus `json:"status"`
	ReadyToShip bool        `json:"readyToShip"`
}

// CheckoutResult carries the response capture for a checkout, fresh or
// replayed, which the transport layer writes out verbatim
type CheckoutResult struct {
	StatusCode int
	Body       []byte
	Replayed   bool
}

func replayResult(record *IdempotencyRecord) *CheckoutResult {
	return &CheckoutResult{
		StatusCode: *record.ResponseStatus,
		Body:       record.ResponseBody,
		Replayed:   true,
	}
}

// Checkout runs one admission attempt under the caller's idempotency key.
// A finalized key replays its captured response byte for byte, a reused
// key with a different body is a conflict, otherwise the provider is
// consulted under a strict timeout and the admission policy decides the
// order status. A policy rejection leaves the key unfinalized so the
// caller can retry once the outage clears.
func (service *Service) Checkout(ctx context.Context, key string, req *CheckoutRequest) (*CheckoutResult, error) {
	logger := logging.Logger(ctx, "checkout.Checkout")

	req.Currency = strings.ToUpper(req.Currency)

	requestHash, err := RequestFingerprint(req)
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to fingerprint checkout request")
	}

	record, outcome, err := service.Datastore.BeginOrReplayIdempotency(ctx, key, requestHash)
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to consult idempotency registry")
	}
	switch outcome {
	case IdempotencyReplay:
		logger.Debug().Str("key", key).Msg("replaying captured checkout response")
		return replayResult(record), nil
	case IdempotencyConflict:
		return nil, errorutils.ErrIdempotencyKeyReuse
	}

	providerOutcome := service.chargeProvider(ctx, req)

	decision := DecideAdmission(providerOutcome, req.BuyerTrust, req.AmountCents, service.cfg.OutagePendingCapCents)
	if decision == DecisionRejectUnsafe {
		logger.Warn().
			Str("buyerTrust", string(req.BuyerTrust)).
			Int64("amountCents", req.AmountCents).
			Msg("provider unreachable, checkout refused")
		return nil, errorutils.ErrProviderUnavailable
	}

	status := decision.OrderStatus()
	order := &Order{
		ID:          uuid.NewV4(),
		BuyerID:     req.BuyerID,
		SellerID:    req.SellerID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		BuyerTrust:  req.BuyerTrust,
		Status:      status,
		ReadyToShip: status == OrderStatusPaid,
	}

	body, err := json.Marshal(&CheckoutResponse{
		OrderID:     order.ID,
		Status:      order.Status,
		ReadyToShip: order.ReadyToShip,
	})
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to marshal checkout response")
	}

	created, err := service.Datastore.CreateOrderAndFinalize(ctx, order, key, http.StatusOK, body)
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to create order")
	}
	if created == nil {
		// a concurrent request with the same key finalized first, its
		// captured response is the one every caller sees
		record, _, err = service.Datastore.BeginOrReplayIdempotency(ctx, key, requestHash)
		if err != nil {
			return nil, errorutils.Wrap(err, "failed to re-read finalized idempotency record")
		}
		if !record.Finalized() {
			return nil, errorutils.ErrInternalServerError
		}
		return replayResult(record), nil
	}

	logger.Info().
		Str("orderID", created.ID.String()).
		Str("status", string(created.Status)).
		Msg("checkout admitted")

	return &CheckoutResult{StatusCode: http.StatusOK, Body: body}, nil
}

// chargeProvider invokes the provider under the configured timeout and
// folds the answer into a policy outcome. Timeouts and transport failures
// both mean the charge state is unknown, they are indistinguishable here.
func (service *Service) chargeProvider(ctx context.Context, req *CheckoutRequest) ProviderOutcome {
	logger := logging.Logger(ctx, "checkout.chargeProvider")

	chargeCtx, cancel := context.WithTimeout(ctx, service.cfg.ProviderTimeout)
	defer cancel()

	resp, err := service.provider.Charge(chargeCtx, &provider.ChargeRequest{
		BuyerID:     req.BuyerID,
		SellerID:    req.SellerID,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		BuyerTrust:  string(req.BuyerTrust),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("provider charge did not resolve in time")
		return ProviderOutcomeUnreachable
	}

	switch resp.ProviderStatus {
	case provider.StatusSucceeded:
		return ProviderOutcomeSucceeded
	case provider.StatusDeclined:
		return ProviderOutcomeDeclined
	default:
		logger.Warn().Str("providerStatus", string(resp.ProviderStatus)).Msg("unrecognized provider status")
		return ProviderOutcomeUnreachable
	}
}

// ReconcileProviderEvent applies an asynchronous provider outcome to its
// order, deduplicated on the provider supplied event id. Returns whether
// this delivery was a duplicate.
func (service *Service) ReconcileProviderEvent(ctx context.Context, req *WebhookRequest) (bool, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return false, errorutils.Wrap(err, "failed to marshal webhook payload")
	}

	duplicate, err := service.Datastore.ReconcileWebhookEvent(ctx, &WebhookEvent{
		EventID: req.EventID,
		OrderID: req.OrderID,
		Outcome: req.Outcome,
		Payload: payload,
	})
	if err != nil {
		return false, errorutils.Wrap(err, "failed to reconcile webhook event")
	}

	if !duplicate {
		logger := logging.Logger(ctx, "checkout.ReconcileProviderEvent")
		logger.Info().
			Str("eventID", req.EventID).
			Str("orderID", req.OrderID.String()).
			Str("outcome", req.Outcome).
			Msg("webhook event reconciled")
	}

	return duplicate, nil
}
