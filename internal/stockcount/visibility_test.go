package stockcount

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEffectiveVisibility(t *testing.T) {
	owned := &Session{OwnerID: 1}
	attended := &Session{OwnerID: 2, AttendeeIDs: []int64{3, 4}}
	foreign := &Session{OwnerID: 9}

	admin := EffectiveVisibility(Viewer{UserID: 5, SystemAdmin: true})
	require.True(t, admin.Unrestricted)
	for _, s := range []*Session{owned, attended, foreign} {
		require.True(t, admin.Allows(s))
	}

	manager := EffectiveVisibility(Viewer{UserID: 5, InventoryManager: true})
	require.True(t, manager.Allows(foreign))

	counter := EffectiveVisibility(Viewer{UserID: 4})
	require.False(t, counter.Unrestricted)
	require.False(t, counter.Allows(owned))
	require.True(t, counter.Allows(attended))
	require.False(t, counter.Allows(foreign))

	owner := EffectiveVisibility(Viewer{UserID: 1})
	require.True(t, owner.Allows(owned))
}

func TestVisibilityClause(t *testing.T) {
	args := []any{"draft"}
	clause := visibilityClause(Visibility{UserID: 7}, &args)
	require.Contains(t, clause, "s.owner_id = $2")
	require.Contains(t, clause, "va.user_id = $2")
	require.Equal(t, []any{"draft", int64(7)}, args)

	args = nil
	require.Empty(t, visibilityClause(Visibility{Unrestricted: true}, &args))
	require.Empty(t, args)
}
