package checkout

// ProviderOutcome - what the provider call resolved to within the allowed wait
type ProviderOutcome string

const (
	// ProviderOutcomeSucceeded - the provider confirmed the charge
	ProviderOutcomeSucceeded ProviderOutcome = "SUCCEEDED"
	// ProviderOutcomeDeclined - the provider refused the charge
	ProviderOutcomeDeclined ProviderOutcome = "DECLINED"
	// ProviderOutcomeUnreachable - timeout or transport failure, the charge
	// state is unknown rather than failed
	ProviderOutcomeUnreachable ProviderOutcome = "UNREACHABLE"
)

// AdmissionDecision - what the checkout should do with the order
type AdmissionDecision string

const (
	// DecisionPaid - create the order already paid
	DecisionPaid AdmissionDecision = "PAID"
	// DecisionFailed - create the order failed
	DecisionFailed AdmissionDecision = "FAILED"
	// DecisionPendingPayment - accept latent risk and create the order pending
	DecisionPendingPayment AdmissionDecision = "PENDING_PAYMENT"
	// DecisionRejectUnsafe - refuse the checkout rather than accept the risk
	DecisionRejectUnsafe AdmissionDecision = "REJECT_UNSAFE"
)

// OrderStatus - the order status an admission decision maps to, only valid
// for decisions that create an order
func (d AdmissionDecision) OrderStatus() OrderStatus {
	switch d {
	case DecisionPaid:
		return OrderStatusPaid
	case DecisionFailed:
		return OrderStatusFailed
	default:
		return OrderStatusPendingPayment
	}
}

// DecideAdmission is the outage admission policy. It is a pure function of
// the provider outcome, the buyer trust tier, the amount and the configured
// outage cap so the risk decision can be tested without network or storage.
// During an outage only small transactions from trusted buyers are admitted
// as pending, everything else is refused because an unreachable provider
// means the charge state is unknown, not failed.
func DecideAdmission(outcome ProviderOutcome, trust BuyerTrust, amountCents, outageCapCents int64) AdmissionDecision {
	switch outcome {
	case ProviderOutcomeSucceeded:
		return DecisionPaid
	case ProviderOutcomeDeclined:
		return DecisionFailed
	default:
		if trust == BuyerTrustTrusted && amountCents <= outageCapCents {
			return DecisionPendingPayment
		}
		return DecisionRejectUnsafe
	}
}
