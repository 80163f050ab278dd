package checkout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideAdmission(t *testing.T) {
	const cap = int64(5000)

	cases := []struct {
		name     string
		outcome  ProviderOutcome
		trust    BuyerTrust
		amount   int64
		expected AdmissionDecision
	}{
		{"succeeded trusted", ProviderOutcomeSucceeded, BuyerTrustTrusted, 100, DecisionPaid},
		{"succeeded new buyer", ProviderOutcomeSucceeded, BuyerTrustNew, 100, DecisionPaid},
		{"succeeded over cap still paid", ProviderOutcomeSucceeded, BuyerTrustNew, cap + 1, DecisionPaid},
		{"declined trusted", ProviderOutcomeDeclined, BuyerTrustTrusted, 100, DecisionFailed},
		{"declined new buyer", ProviderOutcomeDeclined, BuyerTrustNew, 100, DecisionFailed},
		{"declined under cap still failed", ProviderOutcomeDeclined, BuyerTrustTrusted, 1, DecisionFailed},
		{"unreachable trusted under cap", ProviderOutcomeUnreachable, BuyerTrustTrusted, cap - 1, DecisionPendingPayment},
		{"unreachable trusted at cap", ProviderOutcomeUnreachable, BuyerTrustTrusted, cap, DecisionPendingPayment},
		{"unreachable trusted over cap", ProviderOutcomeUnreachable, BuyerTrustTrusted, cap + 1, DecisionRejectUnsafe},
		{"unreachable new buyer under cap", ProviderOutcomeUnreachable, BuyerTrustNew, 1, DecisionRejectUnsafe},
		{"unreachable new buyer over cap", ProviderOutcomeUnreachable, BuyerTrustNew, cap + 1, DecisionRejectUnsafe},
		{"unreachable trusted zero amount", ProviderOutcomeUnreachable, BuyerTrustTrusted, 0, DecisionPendingPayment},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			actual := DecideAdmission(tc.outcome, tc.trust, tc.amount, cap)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestAdmissionDecisionOrderStatus(t *testing.T) {
	assert.Equal(t, OrderStatusPaid, DecisionPaid.OrderStatus())
	assert.Equal(t, OrderStatusFailed, DecisionFailed.OrderStatus())
	assert.Equal(t, OrderStatusPendingPayment, DecisionPendingPayment.OrderStatus())
}
