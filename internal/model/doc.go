package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Document encodings. Amounts are stored as canonical decimal strings, never
// binary floats, so round-tripping cannot change a value. Dates are stored in
// DateLayout; timestamps as time.Time (both store backends keep them intact).

// Doc encodes a transaction for storage.
func (t *Transaction) Doc() map[string]interface{} {
	raw := make(map[string]interface{}, len(t.Raw))
	for k, v := range t.Raw {
		raw[k] = v
	}
	return map[string]interface{}{
		"user_id":     t.UserID,
		"batch_id":    t.BatchID,
		"date":        t.Date.Format(DateLayout),
		"description": t.Description,
		"amount":      t.Amount.String(),
		"category":    t.Category,
		"entity":      t.Entity,
		"raw":         raw,
		"signature":   t.Signature,
	}
}

// TransactionFromDoc decodes a stored transaction document.
func TransactionFromDoc(id string, doc map[string]interface{}) (*Transaction, error) {
	dateStr, err := getString(doc, "date")
	if err != nil {
		return nil, err
	}
	date, err := time.Parse(DateLayout, dateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", dateStr, err)
	}
	amountStr, err := getString(doc, "amount")
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amountStr, err)
	}

	t := &Transaction{
		ID:          id,
		UserID:      getStringOr(doc, "user_id", ""),
		BatchID:     getStringOr(doc, "batch_id", ""),
		Date:        date,
		Description: getStringOr(doc, "description", ""),
		Amount:      amount,
		Category:    getStringOr(doc, "category", ""),
		Entity:      getStringOr(doc, "entity", ""),
		Signature:   getStringOr(doc, "signature", ""),
	}
	if rawAny, ok := doc["raw"].(map[string]interface{}); ok {
		t.Raw = make(map[string]string, len(rawAny))
		for k, v := range rawAny {
			if s, ok := v.(string); ok {
				t.Raw[k] = s
			}
		}
	}
	return t, nil
}

// Doc encodes an upload batch for storage.
func (b *UploadBatch) Doc() map[string]interface{} {
	files := make([]interface{}, len(b.Files))
	for i, f := range b.Files {
		files[i] = f
	}
	return map[string]interface{}{
		"user_id":           b.UserID,
		"content_signature": b.ContentSignature,
		"status":            string(b.Status),
		"categorized":       b.Categorized,
		"transaction_count": b.TransactionCount,
		"skipped_count":     b.SkippedCount,
		"files":             files,
		"error":             b.Error,
		"created_at":        b.CreatedAt,
	}
}

// BatchFromDoc decodes a stored batch document.
func BatchFromDoc(id string, doc map[string]interface{}) (*UploadBatch, error) {
	userID, err := getString(doc, "user_id")
	if err != nil {
		return nil, err
	}
	b := &UploadBatch{
		ID:               id,
		UserID:           userID,
		ContentSignature: getStringOr(doc, "content_signature", ""),
		Status:           BatchStatus(getStringOr(doc, "status", string(BatchPending))),
		Categorized:      getBoolOr(doc, "categorized", false),
		TransactionCount: getIntOr(doc, "transaction_count", 0),
		SkippedCount:     getIntOr(doc, "skipped_count", 0),
		Error:            getStringOr(doc, "error", ""),
		CreatedAt:        getTimeOr(doc, "created_at"),
	}
	if filesAny, ok := doc["files"].([]interface{}); ok {
		for _, f := range filesAny {
			if s, ok := f.(string); ok {
				b.Files = append(b.Files, s)
			}
		}
	}
	return b, nil
}

// Doc encodes a team for storage.
func (t *Team) Doc() map[string]interface{} {
	return map[string]interface{}{
		"name":         t.Name,
		"owner_id":     t.OwnerID,
		"member_count": t.MemberCount,
		"created_at":   t.CreatedAt,
		"updated_at":   t.UpdatedAt,
	}
}

// TeamFromDoc decodes a stored team document.
func TeamFromDoc(id string, doc map[string]interface{}) (*Team, error) {
	name, err := getString(doc, "name")
	if err != nil {
		return nil, err
	}
	ownerID, err := getString(doc, "owner_id")
	if err != nil {
		return nil, err
	}
	return &Team{
		ID:          id,
		Name:        name,
		OwnerID:     ownerID,
		MemberCount: getIntOr(doc, "member_count", 0),
		CreatedAt:   getTimeOr(doc, "created_at"),
		UpdatedAt:   getTimeOr(doc, "updated_at"),
	}, nil
}

// Doc encodes a membership for storage.
func (m *Membership) Doc() map[string]interface{} {
	return map[string]interface{}{
		"team_id":    m.TeamID,
		"user_id":    m.UserID,
		"role":       string(m.Role),
		"status":     string(m.Status),
		"invited_by": m.InvitedBy,
		"joined_at":  m.JoinedAt,
	}
}

// MembershipFromDoc decodes a stored membership document.
func MembershipFromDoc(id string, doc map[string]interface{}) (*Membership, error) {
	teamID, err := getString(doc, "team_id")
	if err != nil {
		return nil, err
	}
	userID, err := getString(doc, "user_id")
	if err != nil {
		return nil, err
	}
	return &Membership{
		ID:        id,
		TeamID:    teamID,
		UserID:    userID,
		Role:      Role(getStringOr(doc, "role", string(RoleMember))),
		Status:    MembershipStatus(getStringOr(doc, "status", string(MembershipActive))),
		InvitedBy: getStringOr(doc, "invited_by", ""),
		JoinedAt:  getTimeOr(doc, "joined_at"),
	}, nil
}

// Doc encodes an invite for storage. The document ID is the invite code.
func (i *Invite) Doc() map[string]interface{} {
	doc := map[string]interface{}{
		"team_id":    i.TeamID,
		"created_by": i.CreatedBy,
		"max_uses":   i.MaxUses,
		"use_count":  i.UseCount,
		"is_active":  i.IsActive,
		"created_at": i.CreatedAt,
	}
	if !i.ExpiresAt.IsZero() {
		doc["expires_at"] = i.ExpiresAt
	}
	return doc
}

// InviteFromDoc decodes a stored invite document.
func InviteFromDoc(code string, doc map[string]interface{}) (*Invite, error) {
	teamID, err := getString(doc, "team_id")
	if err != nil {
		return nil, err
	}
	return &Invite{
		Code:      code,
		TeamID:    teamID,
		CreatedBy: getStringOr(doc, "created_by", ""),
		MaxUses:   getIntOr(doc, "max_uses", 0),
		UseCount:  getIntOr(doc, "use_count", 0),
		ExpiresAt: getTimeOr(doc, "expires_at"),
		IsActive:  getBoolOr(doc, "is_active", false),
		CreatedAt: getTimeOr(doc, "created_at"),
	}, nil
}

func getString(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
	return s, nil
}

func getStringOr(m map[string]interface{}, key, fallback string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return fallback
}

func getBoolOr(m map[string]interface{}, key string, fallback bool) bool {
	if b, ok := m[key].(bool); ok {
		return b
	}
	return fallback
}

// getIntOr tolerates the numeric types the two store backends round-trip
// integers through (int, int64, float64).
func getIntOr(m map[string]interface{}, key string, fallback int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func getTimeOr(m map[string]interface{}, key string) time.Time {
	if t, ok := m[key].(time.Time); ok {
		return t
	}
	return time.Time{}
}
