// Package payment is the external payment/subscription collaborator: the
// predicate a node consults before serving a reencrypt request, and the
// record-payment call a Publisher's grant makes on a policy's behalf. The
// real implementation lives in a payment contract off the cryptographic
// core; this package is the interface plus an in-memory stand-in.
package payment

import (
	"sync"

	"github.com/nucypher/taco/common/id"
)

// Ledger is consulted by internal/nodeservice before serving a reencrypt
// request, and recorded into by internal/policy at the end of a grant.
type Ledger interface {
	IsPaid(hrac id.HRAC) bool
	RecordPayment(hrac id.HRAC)
}

// InMemory is a Ledger backed by a plain set, standing in for the payment
// contract the core never queries directly.
type InMemory struct {
	mu   sync.RWMutex
	paid map[id.HRAC]bool
}

// NewInMemory builds an empty ledger; no policy is paid until RecordPayment
// is called for it.
func NewInMemory() *InMemory {
	return &InMemory{paid: make(map[id.HRAC]bool)}
}

func (l *InMemory) IsPaid(hrac id.HRAC) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.paid[hrac]
}

func (l *InMemory) RecordPayment(hrac id.HRAC) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paid[hrac] = true
}
