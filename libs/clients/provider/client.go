package provider

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/cartfront/checkout-go/libs/clients"
	appctx "github.com/cartfront/checkout-go/libs/context"
	"github.com/cartfront/checkout-go/libs/middleware"
)

// defaultChargeTimeout bounds the provider wait when no timeout was configured
const defaultChargeTimeout = 350 * time.Millisecond

// Status - terminal outcomes the provider reports for a charge
type Status string

const (
	// StatusSucceeded - the provider accepted the charge
	StatusSucceeded Status = "SUCCEEDED"
	// StatusDeclined - the provider refused the charge
	StatusDeclined Status = "DECLINED"
)

// ChargeRequest is the payload sent to the provider for a charge
type ChargeRequest struct {
	BuyerID     string `json:"buyerId"`
	SellerID    string `json:"sellerId"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	BuyerTrust  string `json:"buyerTrust"`
}

// ChargeResponse is what the provider sends back when it answers in time
type ChargeResponse struct {
	ProviderStatus    Status  `json:"providerStatus"`
	ProviderPaymentID *string `json:"providerPaymentId,omitempty"`
}

// Client abstracts over the underlying provider client
type Client interface {
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error)
}

// HTTPClient wraps http.Client for interacting with the payment provider
type HTTPClient struct {
	client *clients.SimpleHTTPClient
}

// NewWithContext returns a new HTTPClient, retrieving the base URL, token
// and charge timeout from the context. The timeout is enforced on our side
// of the call, a provider that ignores cancellation does not hold us up.
func NewWithContext(ctx context.Context) (Client, error) {
	serverURL, err := appctx.GetStringFromContext(ctx, appctx.ProviderServerCTXKey)
	if err != nil {
		if os.Getenv("ENV") != "local" {
			return nil, errors.New("PROVIDER_SERVER is missing in production environment")
		}
		return nil, errors.New("provider server address was empty")
	}

	token, _ := appctx.GetStringFromContext(ctx, appctx.ProviderTokenCTXKey)

	timeout, err := appctx.GetDurationFromContext(ctx, appctx.ProviderTimeoutCTXKey)
	if err != nil {
		timeout = defaultChargeTimeout
	}

	client, err := clients.NewWithHTTPClient(serverURL, token, &http.Client{
		Timeout: timeout,
		Transport: middleware.InstrumentRoundTripper(
			&http.Transport{}, "provider_client"),
	})
	if err != nil {
		return nil, err
	}

	return &HTTPClient{client}, nil
}

// Charge submits a charge to the provider and waits for its answer within
// the configured timeout
func (c *HTTPClient) Charge(ctx context.Context, chargeReq *ChargeRequest) (*ChargeResponse, error) {
	req, err := c.client.NewRequest(ctx, "POST", "v1/charge", chargeReq)
	if err != nil {
		return nil, err
	}

	var resp ChargeResponse
	_, err = c.client.Do(ctx, req, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}
