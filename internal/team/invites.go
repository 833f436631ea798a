package team

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/finfolio-app/finfolio/internal/apperr"
	"github.com/finfolio-app/finfolio/internal/docstore"
	"github.com/finfolio-app/finfolio/internal/model"
)

// MaxInviteUses caps per-invite redemptions so a leaked code cannot grow a
// team without bound.
const MaxInviteUses = 50

// CreateInvite mints an invite code for the caller's team. Admin only.
// maxUses <= 0 defaults to 1; expiresIn <= 0 means the invite never expires.
func (s *Service) CreateInvite(ctx context.Context, callerID string, maxUses int, expiresIn time.Duration) (*model.Invite, error) {
	if maxUses <= 0 {
		maxUses = 1
	}
	if maxUses > MaxInviteUses {
		return nil, apperr.Validation("max uses cannot exceed %d", MaxInviteUses)
	}

	membership, err := s.activeMembership(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, apperr.Permission(apperr.ReasonNotMember, "you are not a member of any team")
	}
	if membership.Role != model.RoleAdmin {
		return nil, apperr.Permission(apperr.ReasonNotAdmin, "only admins can create invites")
	}

	now := s.now().UTC()
	invite := &model.Invite{
		Code:      s.newCode(),
		TeamID:    membership.TeamID,
		CreatedBy: callerID,
		MaxUses:   maxUses,
		IsActive:  true,
		CreatedAt: now,
	}
	if expiresIn > 0 {
		invite.ExpiresAt = now.Add(expiresIn)
	}

	err = s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		return tx.Create(model.CollectionInvites, invite.Code, invite.Doc())
	})
	if err != nil {
		return nil, wrapStore(err, "create invite")
	}

	s.log.Info().Str("team_id", invite.TeamID).Str("created_by", callerID).Msg("invite created")
	return invite, nil
}

// InviteInfo previews an invite before joining: the invite plus the team it
// targets. The same validation as JoinTeam applies, so a caller learns up
// front whether the code is revoked, expired or exhausted.
func (s *Service) InviteInfo(ctx context.Context, code string) (*model.Invite, *model.Team, error) {
	doc, err := s.store.Get(ctx, model.CollectionInvites, code)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil, apperr.NotFound("invite not found")
		}
		return nil, nil, wrapStore(err, "get invite")
	}
	invite, err := model.InviteFromDoc(doc.ID, doc.Data)
	if err != nil {
		return nil, nil, err
	}
	if err := validateInvite(invite, s.now().UTC()); err != nil {
		return nil, nil, err
	}

	team, err := s.Team(ctx, invite.TeamID)
	if err != nil {
		return nil, nil, err
	}
	return invite, team, nil
}

// RevokeInvite deactivates an invite of the caller's team. Admin only. The
// invite record is kept for auditability rather than deleted.
func (s *Service) RevokeInvite(ctx context.Context, callerID, code string) error {
	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		_, team, err := requireAdminTx(tx, callerID)
		if err != nil {
			return err
		}

		doc, err := tx.Get(model.CollectionInvites, code)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return apperr.NotFound("invite not found")
			}
			return err
		}
		invite, err := model.InviteFromDoc(doc.ID, doc.Data)
		if err != nil {
			return err
		}
		if invite.TeamID != team.ID {
			// Codes from other teams are indistinguishable from unknown ones.
			return apperr.NotFound("invite not found")
		}

		return tx.Update(model.CollectionInvites, code, map[string]interface{}{
			"is_active": false,
		})
	})
	if err != nil {
		return wrapStore(err, "revoke invite")
	}

	s.log.Info().Str("revoked_by", callerID).Msg("invite revoked")
	return nil
}

// ListInvites returns the invites of the caller's team, newest first. Admin
// only. With activeOnly set, revoked, expired and exhausted invites are
// filtered out.
func (s *Service) ListInvites(ctx context.Context, callerID string, activeOnly bool) ([]*model.Invite, error) {
	membership, err := s.activeMembership(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, apperr.Permission(apperr.ReasonNotMember, "you are not a member of any team")
	}
	if membership.Role != model.RoleAdmin {
		return nil, apperr.Permission(apperr.ReasonNotAdmin, "only admins can list invites")
	}

	docs, err := s.store.Query(ctx, model.CollectionInvites, []docstore.Filter{
		{Field: "team_id", Value: membership.TeamID},
	}, 0)
	if err != nil {
		return nil, wrapStore(err, "query invites")
	}

	now := s.now().UTC()
	invites := make([]*model.Invite, 0, len(docs))
	for _, doc := range docs {
		invite, err := model.InviteFromDoc(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		if activeOnly && validateInvite(invite, now) != nil {
			continue
		}
		invites = append(invites, invite)
	}
	sort.Slice(invites, func(i, j int) bool { return invites[i].CreatedAt.After(invites[j].CreatedAt) })
	return invites, nil
}
