package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func amt(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestApplyPayment(t *testing.T) {
	t.Run("full payment marks order paid", func(t *testing.T) {
		o := &Order{Payable: amt("100.00"), Paid: amt("0"), Status: StatusPending}
		o.ApplyPayment(amt("100.00"), time.Now())

		assert.Equal(t, StatusPaid, o.Status)
		assert.True(t, o.Paid.Equal(amt("100.00")))
		assert.NotNil(t, o.FirstPaidAt)
	})

	t.Run("partial payment marks order partially paid", func(t *testing.T) {
		o := &Order{Payable: amt("100.00"), Paid: amt("0"), Status: StatusPending}
		o.ApplyPayment(amt("40.00"), time.Now())

		assert.Equal(t, StatusPartiallyPaid, o.Status)
		assert.True(t, o.Paid.Equal(amt("40.00")))
	})

	t.Run("payment within epsilon of payable counts as full", func(t *testing.T) {
		o := &Order{Payable: amt("100.00"), Paid: amt("0"), Status: StatusPending}
		o.ApplyPayment(amt("99.99"), time.Now())

		assert.Equal(t, StatusPaid, o.Status)
	})

	t.Run("paid never exceeds payable", func(t *testing.T) {
		o := &Order{Payable: amt("100.00"), Paid: amt("60.00"), Status: StatusPartiallyPaid}
		o.ApplyPayment(amt("50.00"), time.Now())

		assert.True(t, o.Paid.Equal(amt("100.00")))
	})

	t.Run("first paid timestamp set once", func(t *testing.T) {
		o := &Order{Payable: amt("100.00"), Paid: amt("0"), Status: StatusPending}
		first := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		o.ApplyPayment(amt("40.00"), first)
		o.ApplyPayment(amt("60.00"), first.Add(time.Hour))

		assert.Equal(t, first, *o.FirstPaidAt)
	})
}

func TestApplyRefund(t *testing.T) {
	t.Run("partial refund marks order partially paid", func(t *testing.T) {
		o := &Order{Payable: amt("100.00"), Paid: amt("100.00"), Status: StatusPaid}
		o.ApplyRefund(amt("40.00"))

		assert.Equal(t, StatusPartiallyPaid, o.Status)
		assert.True(t, o.Paid.Equal(amt("60.00")))
	})

	t.Run("full refund marks order refunded", func(t *testing.T) {
		o := &Order{Payable: amt("100.00"), Paid: amt("60.00"), Status: StatusPartiallyPaid}
		o.ApplyRefund(amt("60.00"))

		assert.Equal(t, StatusRefunded, o.Status)
		assert.True(t, o.Paid.IsZero())
	})

	t.Run("paid floored at zero", func(t *testing.T) {
		o := &Order{Payable: amt("100.00"), Paid: amt("30.00"), Status: StatusPartiallyPaid}
		o.ApplyRefund(amt("50.00"))

		assert.True(t, o.Paid.IsZero())
		assert.Equal(t, StatusRefunded, o.Status)
	})
}

func TestOutstanding(t *testing.T) {
	o := &Order{Payable: amt("100.00"), Paid: amt("40.00")}
	assert.True(t, o.Outstanding().Equal(amt("60.00")))

	o.Paid = amt("100.00")
	assert.True(t, o.Outstanding().IsZero())
}

func TestIsPayable(t *testing.T) {
	cases := []struct {
		name   string
		order  Order
		expect bool
	}{
		{"pending unpaid", Order{Payable: amt("50.00"), Paid: amt("0"), Status: StatusPending}, true},
		{"partially paid", Order{Payable: amt("50.00"), Paid: amt("20.00"), Status: StatusPartiallyPaid}, true},
		{"fully paid", Order{Payable: amt("50.00"), Paid: amt("50.00"), Status: StatusPaid}, false},
		{"cancelled", Order{Payable: amt("50.00"), Paid: amt("0"), Status: StatusCancelled}, false},
		{"refunded", Order{Payable: amt("50.00"), Paid: amt("0"), Status: StatusRefunded}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, tc.order.IsPayable())
		})
	}
}
