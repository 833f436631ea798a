// Package model holds the domain types shared by the ingestion, dedup and
// team services, plus their document-store encodings.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Collection names in the document store.
const (
	CollectionBatches      = "batches"
	CollectionTransactions = "transactions"
	CollectionTeams        = "teams"
	CollectionMemberships  = "team_memberships"
	CollectionInvites      = "team_invites"
)

// DateLayout is the canonical calendar-date rendering used in documents and
// content signatures.
const DateLayout = "2006-01-02"

// Transaction is one normalized statement row. Immutable once written; the
// amount sign encodes direction (>= 0 credit, < 0 debit). Every transaction
// is permanently attributed to the user that uploaded it, independent of team
// membership.
type Transaction struct {
	ID          string
	UserID      string          // uploader, permanent owner
	BatchID     string          // upload batch this row arrived in
	Date        time.Time       // calendar date, time-of-day is zero
	Description string          // merchant / memo text
	Amount      decimal.Decimal // exact decimal, signed
	Category    string          // e.g. "Income", "Expense", or a taxonomy name
	Entity      string          // business/personal tag, "Unassigned" by default
	Raw         map[string]string

	// Signature is the precomputed content signature of
	// (date, description, amount). Stored alongside the row so existing
	// signatures can be collected with a single field read.
	Signature string
}

// BatchStatus is the upload batch lifecycle state.
type BatchStatus string

const (
	// BatchPending indicates the batch is recorded but not yet processed.
	BatchPending BatchStatus = "pending"
	// BatchProcessing indicates the worker picked the batch up.
	BatchProcessing BatchStatus = "processing"
	// BatchDone is terminal: all rows stored, summary computed.
	BatchDone BatchStatus = "done"
	// BatchError is terminal: processing failed.
	BatchError BatchStatus = "error"
)

// CanTransitionTo reports whether moving to next is a legal one-way step.
// done and error are terminal.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	switch s {
	case BatchPending:
		return next == BatchProcessing || next == BatchError
	case BatchProcessing:
		return next == BatchDone || next == BatchError
	default:
		return false
	}
}

// UploadBatch is a set of transactions ingested together.
type UploadBatch struct {
	ID               string
	UserID           string // owner, permanent
	ContentSignature string // digest over the batch content
	Status           BatchStatus
	Categorized      bool
	TransactionCount int
	SkippedCount     int // duplicates skipped during ingestion
	Files            []string
	Error            string
	CreatedAt        time.Time
}

// Role is a membership role.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// MembershipStatus is a membership state.
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipPending MembershipStatus = "pending"
)

// Team is a shared data pool. OwnerID always refers to an active member with
// role admin.
type Team struct {
	ID          string
	Name        string
	OwnerID     string
	MemberCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Membership links a user to a team. A user holds at most one active
// membership at a time.
type Membership struct {
	ID        string
	TeamID    string
	UserID    string
	Role      Role
	Status    MembershipStatus
	InvitedBy string // empty for the team creator
	JoinedAt  time.Time
}

// Invite is a shareable join code. Usable only while IsActive, unexpired and
// under its use cap (MaxUses == 0 means unlimited).
type Invite struct {
	Code      string
	TeamID    string
	CreatedBy string
	MaxUses   int
	UseCount  int
	ExpiresAt time.Time // zero value means no expiry
	IsActive  bool
	CreatedAt time.Time
}

// Exhausted reports whether the invite has no uses left.
func (i *Invite) Exhausted() bool {
	return i.MaxUses > 0 && i.UseCount >= i.MaxUses
}

// Expired reports whether the invite's expiry has passed as of now.
func (i *Invite) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}
