// Package fingerprint computes deterministic content signatures for
// transactions and upload batches. Signatures are used purely for duplicate
// detection, not for security: collisions between distinct inputs are treated
// as not practically observable, not as impossible.
//
// These functions are pure. They perform no I/O and never fail.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finfolio-app/finfolio/internal/model"
)

// Transaction returns the signature of exactly the (date, description,
// amount) triple. Two transactions with an identical triple share a signature
// regardless of which batch or upload produced them.
//
// The amount contributes its canonical decimal rendering, so "5.50" and
// "5.5" always fingerprint identically and binary float drift cannot cause
// false negatives.
func Transaction(date time.Time, description string, amount decimal.Decimal) string {
	key := date.Format(model.DateLayout) + "|" + description + "|" + amount.String()
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ForTransaction is a convenience wrapper over Transaction.
func ForTransaction(t *model.Transaction) string {
	return Transaction(t.Date, t.Description, t.Amount)
}

// Batch returns the content signature of a whole upload. Per-transaction
// signatures are combined after sorting the transactions by
// (date, description, amount) ascending, so the same multiset of transactions
// yields the same digest regardless of input file ordering.
//
// An empty batch yields the digest of the empty sequence, a well-defined
// constant.
func Batch(txns []*model.Transaction) string {
	sorted := make([]*model.Transaction, len(txns))
	copy(sorted, txns)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Description != b.Description {
			return a.Description < b.Description
		}
		return a.Amount.Cmp(b.Amount) < 0
	})

	sigs := make([]string, len(sorted))
	for i, t := range sorted {
		sigs[i] = ForTransaction(t)
	}

	sum := sha256.Sum256([]byte(strings.Join(sigs, "\n")))
	return hex.EncodeToString(sum[:])
}
