// Package team implements the access-scope resolver and team lifecycle:
// computing the set of owner identities a caller may read, gating mutating
// operations by role, and managing teams, memberships and invites.
//
// Every operation takes the caller identity explicitly; there is no implicit
// "current user". Read scope is recomputed per request and never cached, so a
// leave or removal is visible no later than the next request.
package team

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/finfolio-app/finfolio/internal/apperr"
	"github.com/finfolio-app/finfolio/internal/docstore"
	"github.com/finfolio-app/finfolio/internal/model"
)

// Service resolves read scopes and executes team lifecycle operations.
type Service struct {
	store docstore.Store
	log   zerolog.Logger

	// Injection points for tests.
	now     func() time.Time
	newID   func() string
	newCode func() string
}

// NewService creates a team service over the given store.
func NewService(store docstore.Store, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		log:     log,
		now:     time.Now,
		newID:   uuid.NewString,
		newCode: newInviteCode,
	}
}

// newInviteCode returns a crypto-random URL-safe invite code.
func newInviteCode() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("team: reading random bytes: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// ResolveReadScope returns the closed set of owner IDs whose records the
// caller may read: just the caller for solo users, or every active member of
// the caller's team. The result is sorted and always contains the caller.
func (s *Service) ResolveReadScope(ctx context.Context, callerID string) ([]string, error) {
	if callerID == "" {
		return nil, apperr.Validation("caller id is required")
	}

	membership, err := s.activeMembership(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return []string{callerID}, nil
	}

	members, err := s.activeTeamMembers(ctx, membership.TeamID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(members))
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if !seen[m.UserID] {
			seen[m.UserID] = true
			ids = append(ids, m.UserID)
		}
	}
	if !seen[callerID] {
		ids = append(ids, callerID)
	}
	sort.Strings(ids)
	return ids, nil
}

// AuthorizeAdminAction allows the operation only if the caller holds an
// active admin membership in the given team. Denials carry a distinct
// machine-readable reason (not_member vs. not_admin).
func (s *Service) AuthorizeAdminAction(ctx context.Context, callerID, teamID string) error {
	membership, err := s.activeMembership(ctx, callerID)
	if err != nil {
		return err
	}
	if membership == nil || membership.TeamID != teamID {
		return apperr.Permission(apperr.ReasonNotMember, "caller is not a member of team %s", teamID)
	}
	if membership.Role != model.RoleAdmin {
		return apperr.Permission(apperr.ReasonNotAdmin, "this action requires team admin privileges")
	}
	return nil
}

// Team fetches a team by ID.
func (s *Service) Team(ctx context.Context, teamID string) (*model.Team, error) {
	doc, err := s.store.Get(ctx, model.CollectionTeams, teamID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, apperr.NotFound("team %s not found", teamID)
		}
		return nil, wrapStore(err, "get team")
	}
	return model.TeamFromDoc(doc.ID, doc.Data)
}

// MyTeam returns the caller's team and membership, or (nil, nil, nil) for a
// solo user.
func (s *Service) MyTeam(ctx context.Context, callerID string) (*model.Team, *model.Membership, error) {
	membership, err := s.activeMembership(ctx, callerID)
	if err != nil {
		return nil, nil, err
	}
	if membership == nil {
		return nil, nil, nil
	}
	team, err := s.Team(ctx, membership.TeamID)
	if err != nil {
		return nil, nil, err
	}
	return team, membership, nil
}

// ListMembers returns the active memberships of the caller's team.
func (s *Service) ListMembers(ctx context.Context, callerID string) (*model.Team, []*model.Membership, error) {
	membership, err := s.activeMembership(ctx, callerID)
	if err != nil {
		return nil, nil, err
	}
	if membership == nil {
		return nil, nil, apperr.NotFound("you are not a member of any team")
	}
	team, err := s.Team(ctx, membership.TeamID)
	if err != nil {
		return nil, nil, err
	}
	members, err := s.activeTeamMembers(ctx, membership.TeamID)
	if err != nil {
		return nil, nil, err
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return team, members, nil
}

// activeMembership returns the caller's active membership, or nil if the
// caller is solo.
func (s *Service) activeMembership(ctx context.Context, userID string) (*model.Membership, error) {
	docs, err := s.store.Query(ctx, model.CollectionMemberships, []docstore.Filter{
		{Field: "user_id", Value: userID},
		{Field: "status", Value: string(model.MembershipActive)},
	}, 1)
	if err != nil {
		return nil, wrapStore(err, "query membership")
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return model.MembershipFromDoc(docs[0].ID, docs[0].Data)
}

// activeTeamMembers returns all active memberships of a team.
func (s *Service) activeTeamMembers(ctx context.Context, teamID string) ([]*model.Membership, error) {
	docs, err := s.store.Query(ctx, model.CollectionMemberships, []docstore.Filter{
		{Field: "team_id", Value: teamID},
		{Field: "status", Value: string(model.MembershipActive)},
	}, 0)
	if err != nil {
		return nil, wrapStore(err, "query team members")
	}
	members := make([]*model.Membership, 0, len(docs))
	for _, doc := range docs {
		m, err := model.MembershipFromDoc(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

// wrapStore classifies store failures: transient contention/timeouts become
// retryable apperr.Transient, business errors pass through untouched.
func wrapStore(err error, op string) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, docstore.ErrTransient) {
		return apperr.Transient(err, "%s", op)
	}
	return fmt.Errorf("%s: %w", op, err)
}
