package provider

import (
	"context"
	"math/rand"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
)

// SimResult - a scripted outcome for the simulator. A zero Delay answers
// immediately, a Delay longer than the caller timeout simulates an outage.
type SimResult struct {
	Status Status
	Delay  time.Duration
	Err    error
}

// Simulator is an injectable provider double with scripted outcomes,
// cycling through them. Core tests script exact outcomes rather than
// relying on randomness.
type Simulator struct {
	mu      sync.Mutex
	results []SimResult
	next    int

	// Calls records every charge request seen, for assertions
	Calls []ChargeRequest
}

// NewSimulator creates a simulator that cycles through the given results
func NewSimulator(results ...SimResult) *Simulator {
	if len(results) == 0 {
		results = []SimResult{{Status: StatusSucceeded}}
	}
	return &Simulator{results: results}
}

// Charge implements Client, honoring context cancellation during delays
func (s *Simulator) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	s.mu.Lock()
	result := s.results[s.next%len(s.results)]
	s.next++
	s.Calls = append(s.Calls, *req)
	s.mu.Unlock()

	if result.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(result.Delay):
		}
	}

	if result.Err != nil {
		return nil, result.Err
	}

	paymentID := uuid.NewV4().String()
	resp := &ChargeResponse{ProviderStatus: result.Status}
	if result.Status == StatusSucceeded {
		resp.ProviderPaymentID = &paymentID
	}
	return resp, nil
}

// RandomSimulator mimics a flaky provider for local development: a slice of
// calls stall past any reasonable timeout, a slice decline, the rest
// succeed. Never used by the core test suite.
type RandomSimulator struct {
	mu  sync.Mutex
	rng *rand.Rand

	// StallFraction of calls hang for StallFor before answering
	StallFraction float64
	// DeclineFraction of calls are declined
	DeclineFraction float64
	// StallFor is how long a stalled call hangs
	StallFor time.Duration
}

// NewRandomSimulator creates a seeded random simulator
func NewRandomSimulator(seed int64, stallFraction, declineFraction float64, stallFor time.Duration) *RandomSimulator {
	return &RandomSimulator{
		rng:             rand.New(rand.NewSource(seed)),
		StallFraction:   stallFraction,
		DeclineFraction: declineFraction,
		StallFor:        stallFor,
	}
}

// Charge implements Client
func (s *RandomSimulator) Charge(ctx context.Context, req *ChargeRequest) (*ChargeResponse, error) {
	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()

	if roll < s.StallFraction {
		// intentionally slow, the caller is expected to give up first
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.StallFor):
		}
	} else if roll < s.StallFraction+s.DeclineFraction {
		return &ChargeResponse{ProviderStatus: StatusDeclined}, nil
	}

	paymentID := uuid.NewV4().String()
	return &ChargeResponse{
		ProviderStatus:    StatusSucceeded,
		ProviderPaymentID: &paymentID,
	}, nil
}
