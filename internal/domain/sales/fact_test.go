package sales

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/erp/backoffice/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestFact(total, discount string, pm PaymentMethod, items ...LineItem) OrderCompleted {
	return OrderCompleted{
		OrderID:       uuid.New(),
		BranchID:      1,
		CompletedAt:   time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		LineItems:     items,
		Discount:      dec(discount),
		PaymentMethod: pm,
		Total:         dec(total),
	}
}

func TestParsePaymentMethod(t *testing.T) {
	tests := []struct {
		in   string
		want PaymentMethod
	}{
		{"cash", PaymentCash},
		{" CARD ", PaymentCard},
		{"credit_card", PaymentCard},
		{"mobile", PaymentMobile},
		{"wallet", PaymentMobile},
		{"voucher", PaymentUnknown},
		{"", PaymentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePaymentMethod(tt.in))
		})
	}
}

func TestOrderCompleted_Validate(t *testing.T) {
	valid := newTestFact("100", "10", PaymentCash, LineItem{MenuID: 1, Quantity: 1, LineTotal: dec("100")})

	tests := []struct {
		name   string
		mutate func(f *OrderCompleted)
		ok     bool
	}{
		{"valid", func(f *OrderCompleted) {}, true},
		{"no items is allowed", func(f *OrderCompleted) { f.LineItems = nil }, true},
		{"missing order id", func(f *OrderCompleted) { f.OrderID = uuid.Nil }, false},
		{"zero branch", func(f *OrderCompleted) { f.BranchID = 0 }, false},
		{"missing completed_at", func(f *OrderCompleted) { f.CompletedAt = time.Time{} }, false},
		{"negative total", func(f *OrderCompleted) { f.Total = dec("-1") }, false},
		{"negative discount", func(f *OrderCompleted) { f.Discount = dec("-1") }, false},
		{"discount above total", func(f *OrderCompleted) { f.Discount = dec("101") }, false},
		{"zero quantity", func(f *OrderCompleted) { f.LineItems[0].Quantity = 0 }, false},
		{"missing menu", func(f *OrderCompleted) { f.LineItems[0].MenuID = 0 }, false},
		{"sub-cent discount", func(f *OrderCompleted) { f.Discount = dec("10.005") }, false},
		{"sub-cent total", func(f *OrderCompleted) { f.Total = dec("100.001") }, false},
		{"sub-cent line total", func(f *OrderCompleted) { f.LineItems[0].LineTotal = dec("99.999") }, false},
		{"trailing zeros are whole cents", func(f *OrderCompleted) { f.Discount = dec("10.500") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid
			f.LineItems = append([]LineItem(nil), valid.LineItems...)
			tt.mutate(&f)
			err := f.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, shared.ErrInvalidInput))
		})
	}
}

func TestLineItem_Amount(t *testing.T) {
	assert.True(t, LineItem{Quantity: 3, UnitPrice: dec("2.50")}.Amount().Equal(dec("7.50")))
	assert.True(t, LineItem{Quantity: 3, UnitPrice: dec("2.50"), LineTotal: dec("7")}.Amount().Equal(dec("7")))
}

func TestOrderCompleted_SalesDateAndHour(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	f := newTestFact("1", "0", PaymentCash)
	f.CompletedAt = time.Date(2024, 2, 29, 20, 15, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), f.SalesDate(time.UTC))
	assert.Equal(t, 20, f.Hour(time.UTC))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), f.SalesDate(seoul))
	assert.Equal(t, 5, f.Hour(seoul))
}

func TestApportionDiscount(t *testing.T) {
	t.Run("proportional split", func(t *testing.T) {
		f := newTestFact("3000", "500", PaymentCard,
			LineItem{MenuID: 1, Quantity: 1, LineTotal: dec("2000")},
			LineItem{MenuID: 2, Quantity: 2, LineTotal: dec("1000")},
		)
		shares := f.ApportionDiscount()
		require.Len(t, shares, 2)
		assert.True(t, shares[0].Equal(dec("333.33")), shares[0].String())
		assert.True(t, shares[1].Equal(dec("166.67")), shares[1].String())
	})

	t.Run("positive residual goes to the largest line", func(t *testing.T) {
		f := newTestFact("3", "0.01", PaymentCash,
			LineItem{MenuID: 1, Quantity: 1, LineTotal: dec("1")},
			LineItem{MenuID: 2, Quantity: 1, LineTotal: dec("1.5")},
			LineItem{MenuID: 3, Quantity: 1, LineTotal: dec("0.5")},
		)
		shares := f.ApportionDiscount()
		assert.True(t, shares[0].IsZero())
		assert.True(t, shares[1].Equal(dec("0.01")))
		assert.True(t, shares[2].IsZero())
	})

	t.Run("negative residual never drives a share below zero", func(t *testing.T) {
		items := make([]LineItem, 8)
		for i := range items {
			items[i] = LineItem{MenuID: int64(i + 1), Quantity: 1, LineTotal: dec("1")}
		}
		f := newTestFact("8", "0.06", PaymentCash, items...)
		shares := f.ApportionDiscount()
		sum := decimal.Sum(decimal.Zero, shares...)
		assert.True(t, sum.Equal(dec("0.06")), sum.String())
		for _, s := range shares {
			assert.False(t, s.IsNegative())
		}
	})

	t.Run("no discount", func(t *testing.T) {
		f := newTestFact("10", "0", PaymentCash, LineItem{MenuID: 1, Quantity: 1, LineTotal: dec("10")})
		assert.True(t, f.ApportionDiscount()[0].IsZero())
	})

	t.Run("zero line sum", func(t *testing.T) {
		f := newTestFact("0", "0", PaymentCash, LineItem{MenuID: 1, Quantity: 1})
		f.Discount = dec("0")
		assert.True(t, f.ApportionDiscount()[0].IsZero())
	})
}

func TestApportionDiscount_SubCentDiscountTerminates(t *testing.T) {
	f := newTestFact("30", "10.005", PaymentCash,
		LineItem{MenuID: 1, Quantity: 1, LineTotal: dec("10")},
		LineItem{MenuID: 2, Quantity: 1, LineTotal: dec("20")},
	)
	require.Error(t, f.Validate())

	done := make(chan []decimal.Decimal, 1)
	go func() { done <- f.ApportionDiscount() }()
	select {
	case shares := <-done:
		sum := decimal.Sum(decimal.Zero, shares...)
		assert.True(t, sum.Equal(dec("10")), sum.String())
	case <-time.After(3 * time.Second):
		t.Fatal("ApportionDiscount did not return for a sub-cent discount")
	}
}

func TestApportionDiscount_SumsToOrderDiscount(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(8)
		items := make([]LineItem, n)
		total := decimal.Zero
		for j := range items {
			amt := decimal.New(int64(1+rng.Intn(100000)), -2)
			items[j] = LineItem{MenuID: int64(j + 1), Quantity: int64(1 + rng.Intn(5)), LineTotal: amt}
			total = total.Add(amt)
		}
		discount := total.Mul(decimal.NewFromFloat(rng.Float64())).RoundBank(2)
		f := OrderCompleted{Total: total, Discount: discount, LineItems: items}

		shares := f.ApportionDiscount()
		sum := decimal.Sum(decimal.Zero, shares...)
		require.True(t, sum.Equal(discount), "iteration %d: %s != %s", i, sum, discount)
		for _, s := range shares {
			require.False(t, s.IsNegative(), "iteration %d: negative share %s", i, s)
		}
	}
}

func TestDayBounds(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	start, end := DayBounds(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), seoul)
	assert.Equal(t, time.Date(2024, 2, 29, 15, 0, 0, 0, time.UTC), start.UTC())
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}
