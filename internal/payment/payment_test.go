package payment_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/internal/payment"
)

func TestUnpaidPolicyIsRejectedUntilRecorded(t *testing.T) {
	ledger := payment.NewInMemory()
	hrac := id.HRAC{1, 2, 3}
	require.False(t, ledger.IsPaid(hrac))
	ledger.RecordPayment(hrac)
	require.True(t, ledger.IsPaid(hrac))
}
