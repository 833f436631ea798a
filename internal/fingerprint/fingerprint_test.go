package fingerprint

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finfolio-app/finfolio/internal/model"
)

func date(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func txn(d, desc, amount string) *model.Transaction {
	return &model.Transaction{
		Date:        date(d),
		Description: desc,
		Amount:      decimal.RequireFromString(amount),
	}
}

func TestTransaction_Deterministic(t *testing.T) {
	a := Transaction(date("2024-01-01"), "Coffee", decimal.RequireFromString("-5.50"))
	b := Transaction(date("2024-01-01"), "Coffee", decimal.RequireFromString("-5.50"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 64) // sha256 hex
}

func TestTransaction_AmountCanonicalization(t *testing.T) {
	// Identical exact values in different renderings must collide.
	a := Transaction(date("2024-01-02"), "Salary", decimal.RequireFromString("3000.00"))
	b := Transaction(date("2024-01-02"), "Salary", decimal.RequireFromString("3000"))
	assert.Equal(t, a, b)
}

func TestTransaction_DistinctTriples(t *testing.T) {
	base := Transaction(date("2024-01-01"), "Coffee", decimal.RequireFromString("-5.50"))

	tests := []struct {
		name string
		got  string
	}{
		{"different date", Transaction(date("2024-01-02"), "Coffee", decimal.RequireFromString("-5.50"))},
		{"different description", Transaction(date("2024-01-01"), "Tea", decimal.RequireFromString("-5.50"))},
		{"different amount", Transaction(date("2024-01-01"), "Coffee", decimal.RequireFromString("-5.51"))},
		{"different sign", Transaction(date("2024-01-01"), "Coffee", decimal.RequireFromString("5.50"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.got)
		})
	}
}

func TestBatch_PermutationInvariance(t *testing.T) {
	txns := []*model.Transaction{
		txn("2024-01-01", "Coffee", "-5.50"),
		txn("2024-01-02", "Salary", "3000.00"),
		txn("2024-01-02", "Rent", "-1200"),
		txn("2024-01-01", "Coffee", "-5.50"), // deliberate duplicate row
		txn("2024-01-03", "Groceries", "-84.20"),
	}
	want := Batch(txns)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := make([]*model.Transaction, len(txns))
		copy(shuffled, txns)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		require.Equal(t, want, Batch(shuffled), "iteration %d", i)
	}
}

func TestBatch_DistinctContents(t *testing.T) {
	a := Batch([]*model.Transaction{
		txn("2024-01-01", "Coffee", "-5.50"),
		txn("2024-01-02", "Salary", "3000.00"),
	})
	b := Batch([]*model.Transaction{
		txn("2024-01-01", "Coffee", "-5.50"),
		txn("2024-01-02", "Salary", "3000.01"),
	})
	assert.NotEqual(t, a, b)

	// A multiset is not a set: adding a duplicate row changes the content.
	c := Batch([]*model.Transaction{
		txn("2024-01-01", "Coffee", "-5.50"),
		txn("2024-01-01", "Coffee", "-5.50"),
		txn("2024-01-02", "Salary", "3000.00"),
	})
	assert.NotEqual(t, a, c)
}

func TestBatch_TieBreaking(t *testing.T) {
	// Same date: order must be decided by description, then amount, so the
	// two orderings below are the same multiset and must agree.
	a := Batch([]*model.Transaction{
		txn("2024-01-01", "Coffee", "-5.50"),
		txn("2024-01-01", "Coffee", "-2.00"),
		txn("2024-01-01", "Bagel", "-3.25"),
	})
	b := Batch([]*model.Transaction{
		txn("2024-01-01", "Bagel", "-3.25"),
		txn("2024-01-01", "Coffee", "-2.00"),
		txn("2024-01-01", "Coffee", "-5.50"),
	})
	assert.Equal(t, a, b)
}

func TestBatch_Empty(t *testing.T) {
	a := Batch(nil)
	b := Batch([]*model.Transaction{})
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestBatch_DoesNotMutateInput(t *testing.T) {
	txns := []*model.Transaction{
		txn("2024-01-03", "C", "-1"),
		txn("2024-01-01", "A", "-1"),
		txn("2024-01-02", "B", "-1"),
	}
	Batch(txns)
	assert.Equal(t, "C", txns[0].Description)
	assert.Equal(t, "A", txns[1].Description)
	assert.Equal(t, "B", txns[2].Description)
}
