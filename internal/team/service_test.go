package team

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finfolio-app/finfolio/internal/apperr"
	"github.com/finfolio-app/finfolio/internal/docstore/memory"
	"github.com/finfolio-app/finfolio/internal/model"
)

func newTestService() *Service {
	s := NewService(memory.NewStore(), zerolog.Nop())
	var mu sync.Mutex
	n := 0
	s.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	s.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

// seedTeam creates a team owned by ownerID and joins the given members via
// single-use invites.
func seedTeam(t *testing.T, s *Service, ownerID string, memberIDs ...string) *model.Team {
	t.Helper()
	ctx := context.Background()

	team, err := s.CreateTeam(ctx, ownerID, "test team")
	require.NoError(t, err)
	for _, id := range memberIDs {
		invite, err := s.CreateInvite(ctx, ownerID, 1, 0)
		require.NoError(t, err)
		_, err = s.JoinTeam(ctx, id, invite.Code)
		require.NoError(t, err)
	}
	return team
}

func TestResolveReadScope_Solo(t *testing.T) {
	s := newTestService()

	scope, err := s.ResolveReadScope(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, scope)
}

func TestResolveReadScope_TeamMembers(t *testing.T) {
	s := newTestService()
	seedTeam(t, s, "alice", "bob", "carol")

	for _, caller := range []string{"alice", "bob", "carol"} {
		scope, err := s.ResolveReadScope(context.Background(), caller)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob", "carol"}, scope, "caller %s", caller)
	}

	// Outsiders are unaffected by the team.
	scope, err := s.ResolveReadScope(context.Background(), "dave")
	require.NoError(t, err)
	assert.Equal(t, []string{"dave"}, scope)
}

func TestResolveReadScope_ShrinksAfterLeave(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	seedTeam(t, s, "alice", "bob")

	_, err := s.LeaveTeam(ctx, "bob")
	require.NoError(t, err)

	scope, err := s.ResolveReadScope(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, scope)

	scope, err = s.ResolveReadScope(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, scope)
}

func TestCreateTeam(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	team, err := s.CreateTeam(ctx, "alice", "finance crew")
	require.NoError(t, err)
	assert.Equal(t, "alice", team.OwnerID)
	assert.Equal(t, 1, team.MemberCount)

	_, members, err := s.ListMembers(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, model.RoleAdmin, members[0].Role)
	assert.Empty(t, members[0].InvitedBy)

	_, err = s.CreateTeam(ctx, "alice", "second team")
	assert.Equal(t, apperr.ReasonAlreadyInTeam, apperr.ReasonOf(err))

	_, err = s.CreateTeam(ctx, "bob", "")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestJoinTeam(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	seedTeam(t, s, "alice")

	invite, err := s.CreateInvite(ctx, "alice", 2, 0)
	require.NoError(t, err)

	team, err := s.JoinTeam(ctx, "bob", invite.Code)
	require.NoError(t, err)
	assert.Equal(t, 2, team.MemberCount)

	_, members, err := s.ListMembers(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, members, 2)
	bob := members[1]
	assert.Equal(t, "bob", bob.UserID)
	assert.Equal(t, model.RoleMember, bob.Role)
	assert.Equal(t, "alice", bob.InvitedBy)

	// Joining twice, or joining while in another team, is a conflict.
	_, err = s.JoinTeam(ctx, "bob", invite.Code)
	assert.Equal(t, apperr.ReasonAlreadyInTeam, apperr.ReasonOf(err))
}

func TestJoinTeam_InviteValidation(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	seedTeam(t, s, "alice")

	t.Run("unknown code", func(t *testing.T) {
		_, err := s.JoinTeam(ctx, "bob", "no-such-code")
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})

	t.Run("revoked", func(t *testing.T) {
		invite, err := s.CreateInvite(ctx, "alice", 1, 0)
		require.NoError(t, err)
		require.NoError(t, s.RevokeInvite(ctx, "alice", invite.Code))

		_, err = s.JoinTeam(ctx, "bob", invite.Code)
		assert.Equal(t, apperr.ReasonInviteRevoked, apperr.ReasonOf(err))
	})

	t.Run("expired", func(t *testing.T) {
		invite, err := s.CreateInvite(ctx, "alice", 1, time.Hour)
		require.NoError(t, err)

		base := s.now()
		s.now = func() time.Time { return base.Add(2 * time.Hour) }
		defer func() { s.now = func() time.Time { return base } }()

		_, err = s.JoinTeam(ctx, "bob", invite.Code)
		assert.Equal(t, apperr.ReasonInviteExpired, apperr.ReasonOf(err))
	})

	t.Run("exhausted", func(t *testing.T) {
		invite, err := s.CreateInvite(ctx, "alice", 1, 0)
		require.NoError(t, err)
		_, err = s.JoinTeam(ctx, "carol", invite.Code)
		require.NoError(t, err)

		_, err = s.JoinTeam(ctx, "dave", invite.Code)
		assert.Equal(t, apperr.ReasonInviteExhausted, apperr.ReasonOf(err))
	})
}

// A single-use invite admits exactly one of many concurrent joiners.
func TestJoinTeam_ConcurrentSingleUse(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	seedTeam(t, s, "alice")

	invite, err := s.CreateInvite(ctx, "alice", 1, 0)
	require.NoError(t, err)

	const joiners = 8
	var wg sync.WaitGroup
	errs := make([]error, joiners)
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.JoinTeam(ctx, fmt.Sprintf("user-%d", i), invite.Code)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.Equal(t, apperr.ReasonInviteExhausted, apperr.ReasonOf(err))
		}
	}
	assert.Equal(t, 1, succeeded)

	team, _, err := s.MyTeam(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, team.MemberCount)
}

func TestLeaveTeam_SoleMemberDissolvesTeam(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	team := seedTeam(t, s, "alice")
	invite, err := s.CreateInvite(ctx, "alice", 5, 0)
	require.NoError(t, err)

	dissolved, err := s.LeaveTeam(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, dissolved)

	_, err = s.Team(ctx, team.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	// Invites die with the team.
	_, _, err = s.InviteInfo(ctx, invite.Code)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	scope, err := s.ResolveReadScope(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, scope)
}

func TestLeaveTeam_LastAdminDenied(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	seedTeam(t, s, "alice", "bob")

	_, err := s.LeaveTeam(ctx, "alice")
	assert.Equal(t, apperr.ReasonLastAdmin, apperr.ReasonOf(err))

	// After promoting bob, alice can leave.
	require.NoError(t, s.UpdateMemberRole(ctx, "alice", "bob", model.RoleAdmin))
	dissolved, err := s.LeaveTeam(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, dissolved)
}

func TestLeaveTeam_OwnerTransfersToSmallestAdminID(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	team := seedTeam(t, s, "zoe", "bob", "carol")
	require.NoError(t, s.UpdateMemberRole(ctx, "zoe", "carol", model.RoleAdmin))
	require.NoError(t, s.UpdateMemberRole(ctx, "zoe", "bob", model.RoleAdmin))

	dissolved, err := s.LeaveTeam(ctx, "zoe")
	require.NoError(t, err)
	assert.False(t, dissolved)

	after, err := s.Team(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", after.OwnerID)
	assert.Equal(t, 2, after.MemberCount)
}

func TestLeaveTeam_NotAMember(t *testing.T) {
	s := newTestService()
	_, err := s.LeaveTeam(context.Background(), "alice")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestUpdateMemberRole(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	seedTeam(t, s, "alice", "bob", "carol")

	t.Run("member cannot change roles", func(t *testing.T) {
		err := s.UpdateMemberRole(ctx, "bob", "carol", model.RoleAdmin)
		assert.Equal(t, apperr.ReasonNotAdmin, apperr.ReasonOf(err))
	})

	t.Run("owner role is immutable", func(t *testing.T) {
		require.NoError(t, s.UpdateMemberRole(ctx, "alice", "bob", model.RoleAdmin))
		err := s.UpdateMemberRole(ctx, "bob", "alice", model.RoleMember)
		assert.Equal(t, apperr.ReasonOwnerRole, apperr.ReasonOf(err))
		require.NoError(t, s.UpdateMemberRole(ctx, "alice", "bob", model.RoleMember))
	})

	t.Run("last admin cannot demote self", func(t *testing.T) {
		err := s.UpdateMemberRole(ctx, "alice", "alice", model.RoleMember)
		assert.Equal(t, apperr.ReasonLastAdmin, apperr.ReasonOf(err))
	})

	t.Run("unknown target", func(t *testing.T) {
		err := s.UpdateMemberRole(ctx, "alice", "nobody", model.RoleAdmin)
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})

	t.Run("invalid role", func(t *testing.T) {
		err := s.UpdateMemberRole(ctx, "alice", "bob", model.Role("superuser"))
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	})

	t.Run("owner self-demotion with another admin present", func(t *testing.T) {
		require.NoError(t, s.UpdateMemberRole(ctx, "alice", "bob", model.RoleAdmin))
		err := s.UpdateMemberRole(ctx, "alice", "alice", model.RoleMember)
		assert.Equal(t, apperr.ReasonOwnerRole, apperr.ReasonOf(err))
	})
}

func TestRemoveMember(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	team := seedTeam(t, s, "alice", "bob", "carol")

	t.Run("member cannot remove", func(t *testing.T) {
		err := s.RemoveMember(ctx, "bob", "carol")
		assert.Equal(t, apperr.ReasonNotAdmin, apperr.ReasonOf(err))
	})

	t.Run("owner cannot be removed", func(t *testing.T) {
		require.NoError(t, s.UpdateMemberRole(ctx, "alice", "bob", model.RoleAdmin))
		err := s.RemoveMember(ctx, "bob", "alice")
		assert.Equal(t, apperr.ReasonOwnerRole, apperr.ReasonOf(err))
	})

	t.Run("self removal is denied", func(t *testing.T) {
		err := s.RemoveMember(ctx, "alice", "alice")
		assert.Equal(t, apperr.ReasonSelfTarget, apperr.ReasonOf(err))
	})

	t.Run("admin removes member", func(t *testing.T) {
		require.NoError(t, s.RemoveMember(ctx, "alice", "carol"))

		after, err := s.Team(ctx, team.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, after.MemberCount)

		scope, err := s.ResolveReadScope(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, []string{"carol"}, scope)
	})
}

func TestAuthorizeAdminAction(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	team := seedTeam(t, s, "alice", "bob")

	assert.NoError(t, s.AuthorizeAdminAction(ctx, "alice", team.ID))

	err := s.AuthorizeAdminAction(ctx, "bob", team.ID)
	assert.Equal(t, apperr.ReasonNotAdmin, apperr.ReasonOf(err))

	err = s.AuthorizeAdminAction(ctx, "outsider", team.ID)
	assert.Equal(t, apperr.ReasonNotMember, apperr.ReasonOf(err))

	err = s.AuthorizeAdminAction(ctx, "alice", "other-team")
	assert.Equal(t, apperr.ReasonNotMember, apperr.ReasonOf(err))
}

func TestInvites(t *testing.T) {
	s := newTestService()
	ctx := context.Background()
	team := seedTeam(t, s, "alice", "bob")

	t.Run("member cannot create", func(t *testing.T) {
		_, err := s.CreateInvite(ctx, "bob", 1, 0)
		assert.Equal(t, apperr.ReasonNotAdmin, apperr.ReasonOf(err))
	})

	t.Run("max uses is capped", func(t *testing.T) {
		_, err := s.CreateInvite(ctx, "alice", MaxInviteUses+1, 0)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	})

	t.Run("info previews the team", func(t *testing.T) {
		invite, err := s.CreateInvite(ctx, "alice", 3, 0)
		require.NoError(t, err)

		got, gotTeam, err := s.InviteInfo(ctx, invite.Code)
		require.NoError(t, err)
		assert.Equal(t, team.ID, gotTeam.ID)
		assert.Equal(t, 3, got.MaxUses)
	})

	t.Run("list filters inactive", func(t *testing.T) {
		revoked, err := s.CreateInvite(ctx, "alice", 1, 0)
		require.NoError(t, err)
		require.NoError(t, s.RevokeInvite(ctx, "alice", revoked.Code))

		all, err := s.ListInvites(ctx, "alice", false)
		require.NoError(t, err)
		active, err := s.ListInvites(ctx, "alice", true)
		require.NoError(t, err)
		assert.Greater(t, len(all), len(active))
		for _, inv := range active {
			assert.True(t, inv.IsActive)
		}
	})

	t.Run("revoking a foreign code reads as not found", func(t *testing.T) {
		s2 := newTestService()
		seedTeam(t, s2, "zara")
		foreign, err := s2.CreateInvite(ctx, "zara", 1, 0)
		require.NoError(t, err)

		err = s.RevokeInvite(ctx, "alice", foreign.Code)
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})
}
