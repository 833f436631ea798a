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

// CreateTeam creates a team with the caller as owner and sole admin. The
// no-existing-membership check and both document creations commit atomically,
// so a user can never end up with two active memberships even under
// concurrent requests.
func (s *Service) CreateTeam(ctx context.Context, callerID, name string) (*model.Team, error) {
	if callerID == "" {
		return nil, apperr.Validation("caller id is required")
	}
	if name == "" {
		return nil, apperr.Validation("team name is required")
	}

	now := s.now().UTC()
	team := &model.Team{
		ID:          s.newID(),
		Name:        name,
		OwnerID:     callerID,
		MemberCount: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	membership := &model.Membership{
		ID:       s.newID(),
		TeamID:   team.ID,
		UserID:   callerID,
		Role:     model.RoleAdmin,
		Status:   model.MembershipActive,
		JoinedAt: now,
	}

	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		existing, err := activeMembershipTx(tx, callerID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Conflict(apperr.ReasonAlreadyInTeam, "you are already a member of a team")
		}
		if err := tx.Create(model.CollectionTeams, team.ID, team.Doc()); err != nil {
			return err
		}
		return tx.Create(model.CollectionMemberships, membership.ID, membership.Doc())
	})
	if err != nil {
		return nil, wrapStore(err, "create team")
	}

	s.log.Info().Str("team_id", team.ID).Str("owner_id", callerID).Msg("team created")
	return team, nil
}

// JoinTeam redeems an invite code and adds the caller as a member. Invite
// validation, the use-count increment and the membership creation run in one
// transaction, so an invite with max_uses=1 admits exactly one of any number
// of concurrent joiners.
func (s *Service) JoinTeam(ctx context.Context, callerID, code string) (*model.Team, error) {
	if callerID == "" {
		return nil, apperr.Validation("caller id is required")
	}
	if code == "" {
		return nil, apperr.Validation("invite code is required")
	}

	now := s.now().UTC()
	var joined *model.Team

	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
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
		if err := validateInvite(invite, now); err != nil {
			return err
		}

		existing, err := activeMembershipTx(tx, callerID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.Conflict(apperr.ReasonAlreadyInTeam, "you are already a member of a team")
		}

		teamDoc, err := tx.Get(model.CollectionTeams, invite.TeamID)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return apperr.NotFound("team for invite no longer exists")
			}
			return err
		}
		team, err := model.TeamFromDoc(teamDoc.ID, teamDoc.Data)
		if err != nil {
			return err
		}

		membership := &model.Membership{
			ID:        s.newID(),
			TeamID:    team.ID,
			UserID:    callerID,
			Role:      model.RoleMember,
			Status:    model.MembershipActive,
			InvitedBy: invite.CreatedBy,
			JoinedAt:  now,
		}
		if err := tx.Update(model.CollectionInvites, code, map[string]interface{}{
			"use_count": invite.UseCount + 1,
		}); err != nil {
			return err
		}
		if err := tx.Create(model.CollectionMemberships, membership.ID, membership.Doc()); err != nil {
			return err
		}
		if err := tx.Update(model.CollectionTeams, team.ID, map[string]interface{}{
			"member_count": team.MemberCount + 1,
			"updated_at":   now,
		}); err != nil {
			return err
		}

		team.MemberCount++
		team.UpdatedAt = now
		joined = team
		return nil
	})
	if err != nil {
		return nil, wrapStore(err, "join team")
	}

	s.log.Info().Str("team_id", joined.ID).Str("user_id", callerID).Msg("member joined team")
	return joined, nil
}

// validateInvite checks an invite for redeemability; each failure mode has
// its own machine-readable reason.
func validateInvite(invite *model.Invite, now time.Time) error {
	if !invite.IsActive {
		return apperr.Conflict(apperr.ReasonInviteRevoked, "invite has been revoked")
	}
	if invite.Expired(now) {
		return apperr.Conflict(apperr.ReasonInviteExpired, "invite has expired")
	}
	if invite.Exhausted() {
		return apperr.Conflict(apperr.ReasonInviteExhausted, "invite has reached its usage limit")
	}
	return nil
}

// LeaveTeam removes the caller from their team. Returns true if leaving
// dissolved the team.
//
// Rules, checked in order inside one transaction:
//   - sole member: the team, its memberships and its invites are deleted
//   - sole admin with other members: denied, an admin must be appointed first
//   - owner with another admin present: ownership transfers to the remaining
//     admin with the smallest user ID, then the caller leaves
func (s *Service) LeaveTeam(ctx context.Context, callerID string) (bool, error) {
	if callerID == "" {
		return false, apperr.Validation("caller id is required")
	}

	now := s.now().UTC()
	var dissolved bool

	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		membership, err := activeMembershipTx(tx, callerID)
		if err != nil {
			return err
		}
		if membership == nil {
			return apperr.NotFound("you are not a member of any team")
		}

		teamDoc, err := tx.Get(model.CollectionTeams, membership.TeamID)
		if err != nil {
			return err
		}
		team, err := model.TeamFromDoc(teamDoc.ID, teamDoc.Data)
		if err != nil {
			return err
		}

		members, err := teamMembersTx(tx, team.ID)
		if err != nil {
			return err
		}
		var others []*model.Membership
		for _, m := range members {
			if m.UserID != callerID {
				others = append(others, m)
			}
		}

		if len(others) == 0 {
			if err := deleteTeamTx(tx, team.ID, members); err != nil {
				return err
			}
			dissolved = true
			return nil
		}

		if membership.Role == model.RoleAdmin {
			var otherAdmins []*model.Membership
			for _, m := range others {
				if m.Role == model.RoleAdmin {
					otherAdmins = append(otherAdmins, m)
				}
			}
			if len(otherAdmins) == 0 {
				return apperr.Conflict(apperr.ReasonLastAdmin,
					"you are the only admin; promote another member before leaving")
			}
			if team.OwnerID == callerID {
				sort.Slice(otherAdmins, func(i, j int) bool {
					return otherAdmins[i].UserID < otherAdmins[j].UserID
				})
				if err := tx.Update(model.CollectionTeams, team.ID, map[string]interface{}{
					"owner_id": otherAdmins[0].UserID,
				}); err != nil {
					return err
				}
			}
		}

		if err := tx.Delete(model.CollectionMemberships, membership.ID); err != nil {
			return err
		}
		return tx.Update(model.CollectionTeams, team.ID, map[string]interface{}{
			"member_count": team.MemberCount - 1,
			"updated_at":   now,
		})
	})
	if err != nil {
		return false, wrapStore(err, "leave team")
	}

	s.log.Info().Str("user_id", callerID).Bool("dissolved", dissolved).Msg("member left team")
	return dissolved, nil
}

// UpdateMemberRole changes another member's role. Admin only. The owner's
// role cannot be changed, and the last admin cannot demote themselves. The
// self-demotion guard is checked first: the sole admin is always the owner,
// so the owner guard would otherwise shadow the last_admin reason.
func (s *Service) UpdateMemberRole(ctx context.Context, callerID, targetUserID string, role model.Role) error {
	if role != model.RoleAdmin && role != model.RoleMember {
		return apperr.Validation("role must be %q or %q", model.RoleAdmin, model.RoleMember)
	}

	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		_, team, err := requireAdminTx(tx, callerID)
		if err != nil {
			return err
		}

		members, err := teamMembersTx(tx, team.ID)
		if err != nil {
			return err
		}
		if targetUserID == callerID && role == model.RoleMember {
			admins := 0
			for _, m := range members {
				if m.Role == model.RoleAdmin {
					admins++
				}
			}
			if admins <= 1 {
				return apperr.Conflict(apperr.ReasonLastAdmin, "cannot demote the only admin")
			}
		}
		if targetUserID == team.OwnerID {
			return apperr.Conflict(apperr.ReasonOwnerRole, "the team owner's role cannot be changed")
		}

		target := findMember(members, targetUserID)
		if target == nil {
			return apperr.NotFound("user %s is not a member of your team", targetUserID)
		}
		return tx.Update(model.CollectionMemberships, target.ID, map[string]interface{}{
			"role": string(role),
		})
	})
	return wrapStore(err, "update member role")
}

// RemoveMember removes another member from the caller's team. Admin only.
// The owner cannot be removed, and admins must use LeaveTeam for themselves.
// Self-targeting is checked before the owner guard so the owner removing
// themselves is redirected to LeaveTeam rather than told they are the owner.
func (s *Service) RemoveMember(ctx context.Context, callerID, targetUserID string) error {
	now := s.now().UTC()

	err := s.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		_, team, err := requireAdminTx(tx, callerID)
		if err != nil {
			return err
		}
		if targetUserID == callerID {
			return apperr.Conflict(apperr.ReasonSelfTarget, "use leave to remove yourself")
		}
		if targetUserID == team.OwnerID {
			return apperr.Conflict(apperr.ReasonOwnerRole, "the team owner cannot be removed")
		}

		members, err := teamMembersTx(tx, team.ID)
		if err != nil {
			return err
		}
		target := findMember(members, targetUserID)
		if target == nil {
			return apperr.NotFound("user %s is not a member of your team", targetUserID)
		}

		if err := tx.Delete(model.CollectionMemberships, target.ID); err != nil {
			return err
		}
		return tx.Update(model.CollectionTeams, team.ID, map[string]interface{}{
			"member_count": team.MemberCount - 1,
			"updated_at":   now,
		})
	})
	if err != nil {
		return wrapStore(err, "remove member")
	}

	s.log.Info().Str("user_id", targetUserID).Str("removed_by", callerID).Msg("member removed from team")
	return nil
}

// requireAdminTx loads the caller's membership and team inside a transaction
// and verifies admin role.
func requireAdminTx(tx docstore.Tx, callerID string) (*model.Membership, *model.Team, error) {
	membership, err := activeMembershipTx(tx, callerID)
	if err != nil {
		return nil, nil, err
	}
	if membership == nil {
		return nil, nil, apperr.Permission(apperr.ReasonNotMember, "you are not a member of any team")
	}
	if membership.Role != model.RoleAdmin {
		return nil, nil, apperr.Permission(apperr.ReasonNotAdmin, "this action requires team admin privileges")
	}

	teamDoc, err := tx.Get(model.CollectionTeams, membership.TeamID)
	if err != nil {
		return nil, nil, err
	}
	team, err := model.TeamFromDoc(teamDoc.ID, teamDoc.Data)
	if err != nil {
		return nil, nil, err
	}
	return membership, team, nil
}

// activeMembershipTx is the transactional twin of activeMembership.
func activeMembershipTx(tx docstore.Tx, userID string) (*model.Membership, error) {
	docs, err := tx.Query(model.CollectionMemberships, []docstore.Filter{
		{Field: "user_id", Value: userID},
		{Field: "status", Value: string(model.MembershipActive)},
	}, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return model.MembershipFromDoc(docs[0].ID, docs[0].Data)
}

func teamMembersTx(tx docstore.Tx, teamID string) ([]*model.Membership, error) {
	docs, err := tx.Query(model.CollectionMemberships, []docstore.Filter{
		{Field: "team_id", Value: teamID},
		{Field: "status", Value: string(model.MembershipActive)},
	}, 0)
	if err != nil {
		return nil, err
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

func findMember(members []*model.Membership, userID string) *model.Membership {
	for _, m := range members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

// deleteTeamTx removes a team with all of its memberships and invites.
func deleteTeamTx(tx docstore.Tx, teamID string, members []*model.Membership) error {
	invites, err := tx.Query(model.CollectionInvites, []docstore.Filter{
		{Field: "team_id", Value: teamID},
	}, 0)
	if err != nil {
		return err
	}
	for _, inv := range invites {
		if err := tx.Delete(model.CollectionInvites, inv.ID); err != nil {
			return err
		}
	}
	for _, m := range members {
		if err := tx.Delete(model.CollectionMemberships, m.ID); err != nil {
			return err
		}
	}
	return tx.Delete(model.CollectionTeams, teamID)
}
