package checkout

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestFingerprintStable(t *testing.T) {
	req := &CheckoutRequest{
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		AmountCents: 1299,
		Currency:    "USD",
		BuyerTrust:  BuyerTrustTrusted,
	}

	first, err := RequestFingerprint(req)
	require.NoError(t, err)
	second, err := RequestFingerprint(req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestRequestFingerprintIgnoresKeyOrderAndWhitespace(t *testing.T) {
	var a, b map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(
		`{"buyerId":"b","sellerId":"s","amountCents":100,"currency":"USD","buyerTrust":"new"}`), &a))
	require.NoError(t, json.Unmarshal([]byte(
		`{
			"currency": "USD",
			"amountCents": 100,
			"buyerTrust": "new",
			"sellerId": "s",
			"buyerId": "b"
		}`), &b))

	hashA, err := RequestFingerprint(a)
	require.NoError(t, err)
	hashB, err := RequestFingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, hashA, hashB)
}

func TestRequestFingerprintDetectsChangedBody(t *testing.T) {
	req := &CheckoutRequest{
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		AmountCents: 1299,
		Currency:    "USD",
		BuyerTrust:  BuyerTrustTrusted,
	}

	base, err := RequestFingerprint(req)
	require.NoError(t, err)

	changed := *req
	changed.AmountCents = 1300
	changedHash, err := RequestFingerprint(&changed)
	require.NoError(t, err)

	assert.NotEqual(t, base, changedHash)
}
