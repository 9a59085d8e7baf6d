package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestOrder(t *testing.T) *Order {
	o, err := New("O-1")
	require.NoError(t, err)
	return o
}

func TestStatus_IsValid(t *testing.T) {
	tests := []struct {
		status  Status
		isValid bool
	}{
		{StatusPending, true},
		{StatusProcessing, true},
		{StatusInvoiced, true},
		{StatusShipped, true},
		{StatusDelivered, true},
		{StatusCancelled, true},
		{Status("shipped_back"), false},
		{Status(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.isValid, tt.status.IsValid())
		})
	}
}

func TestNew(t *testing.T) {
	o, err := New("O-100")
	require.NoError(t, err)
	assert.Equal(t, "O-100", o.OrderNumber)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentStatusPending, o.PaymentStatus)
	assert.EqualValues(t, 1, o.Version)

	_, err = New("")
	assert.Error(t, err)
}

func TestOrder_ApplyStatus_Forward(t *testing.T) {
	o := createTestOrder(t)

	for _, next := range []Status{StatusProcessing, StatusInvoiced, StatusShipped, StatusDelivered} {
		res, err := o.ApplyStatus(next)
		require.NoError(t, err)
		assert.Equal(t, ApplyResultApplied, res)
		assert.Equal(t, next, o.Status)
	}
}

func TestOrder_ApplyStatus_Skip(t *testing.T) {
	// Pipeline stages may be skipped when a source reports a later state
	o := createTestOrder(t)
	res, err := o.ApplyStatus(StatusShipped)
	require.NoError(t, err)
	assert.Equal(t, ApplyResultApplied, res)
	assert.Equal(t, StatusShipped, o.Status)
}

func TestOrder_ApplyStatus_IdempotentReplay(t *testing.T) {
	o := createTestOrder(t)
	_, err := o.ApplyStatus(StatusProcessing)
	require.NoError(t, err)

	res, err := o.ApplyStatus(StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, ApplyResultUnchanged, res)
	assert.Equal(t, StatusProcessing, o.Status)
}

func TestOrder_ApplyStatus_RegressionRejected(t *testing.T) {
	o := createTestOrder(t)
	_, err := o.ApplyStatus(StatusShipped)
	require.NoError(t, err)

	res, err := o.ApplyStatus(StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, ApplyResultRejected, res)
	assert.Equal(t, StatusShipped, o.Status)
}

func TestOrder_ApplyStatus_Cancellation(t *testing.T) {
	t.Run("from shipped", func(t *testing.T) {
		o := createTestOrder(t)
		_, err := o.ApplyStatus(StatusShipped)
		require.NoError(t, err)

		res, err := o.ApplyStatus(StatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, ApplyResultApplied, res)
		assert.Equal(t, StatusCancelled, o.Status)
	})

	t.Run("from delivered rejected", func(t *testing.T) {
		o := createTestOrder(t)
		_, err := o.ApplyStatus(StatusDelivered)
		require.NoError(t, err)

		res, err := o.ApplyStatus(StatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, ApplyResultRejected, res)
		assert.Equal(t, StatusDelivered, o.Status)
	})

	t.Run("cancelled is absorbing", func(t *testing.T) {
		o := createTestOrder(t)
		_, err := o.ApplyStatus(StatusCancelled)
		require.NoError(t, err)

		res, err := o.ApplyStatus(StatusShipped)
		require.NoError(t, err)
		assert.Equal(t, ApplyResultRejected, res)
		assert.Equal(t, StatusCancelled, o.Status)
	})
}

func TestOrder_ApplyStatus_InvalidStatus(t *testing.T) {
	o := createTestOrder(t)
	_, err := o.ApplyStatus(Status("weird"))
	assert.Error(t, err)
	assert.Equal(t, StatusPending, o.Status)
}

func TestOrder_ApprovePayment(t *testing.T) {
	t.Run("advances pending to processing", func(t *testing.T) {
		o := createTestOrder(t)
		paidAt := time.Now()

		advanced := o.ApprovePayment(paidAt)
		assert.True(t, advanced)
		assert.Equal(t, StatusProcessing, o.Status)
		assert.Equal(t, PaymentStatusApproved, o.PaymentStatus)
		require.NotNil(t, o.PaidAt)
		assert.WithinDuration(t, paidAt, *o.PaidAt, time.Second)
	})

	t.Run("never regresses a later status", func(t *testing.T) {
		o := createTestOrder(t)
		_, err := o.ApplyStatus(StatusShipped)
		require.NoError(t, err)

		advanced := o.ApprovePayment(time.Now())
		assert.False(t, advanced)
		assert.Equal(t, StatusShipped, o.Status)
		assert.Equal(t, PaymentStatusApproved, o.PaymentStatus)
	})

	t.Run("keeps first paid timestamp on replay", func(t *testing.T) {
		o := createTestOrder(t)
		first := time.Now().Add(-time.Hour)
		o.ApprovePayment(first)
		o.ApprovePayment(time.Now())
		assert.Equal(t, first, *o.PaidAt)
	})
}

func TestOrder_LinkERPOrder(t *testing.T) {
	o := createTestOrder(t)
	o.LinkERPOrder("E-55")
	assert.Equal(t, "E-55", o.ERPOrderID)

	// Set once, never overwritten
	o.LinkERPOrder("E-99")
	assert.Equal(t, "E-55", o.ERPOrderID)
}

func TestOrder_SetTracking(t *testing.T) {
	o := createTestOrder(t)
	o.SetTracking("TRK-1", "loggi")
	assert.Equal(t, "TRK-1", o.TrackingCode)
	assert.Equal(t, "loggi", o.Carrier)

	// Empty values do not blank existing fields
	o.SetTracking("", "")
	assert.Equal(t, "TRK-1", o.TrackingCode)
	assert.Equal(t, "loggi", o.Carrier)
}
