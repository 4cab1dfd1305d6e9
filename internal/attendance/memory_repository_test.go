package attendance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepositoryCadets(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	older := Cadet{ID: "a", Name: "Jane Doe", Cohort: "2027", Group: "Alpha", CreatedAt: oct(5, 19, 30)}
	newer := Cadet{ID: "b", Name: "jane doe", Cohort: "2027", Group: "alpha", CreatedAt: oct(12, 19, 30)}
	require.NoError(t, repo.CreateCadet(ctx, newer))
	require.NoError(t, repo.CreateCadet(ctx, older))
	assert.ErrorIs(t, repo.CreateCadet(ctx, older), ErrConflict)

	found, err := repo.FindCadet(ctx, CadetKey{Name: "JANE DOE", Cohort: "2027", Group: "ALPHA"})
	require.NoError(t, err)
	assert.Equal(t, "a", found.ID)

	_, err = repo.FindCadet(ctx, CadetKey{Name: "Jane Doe", Cohort: "2028", Group: "Alpha"})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.UpdateCadetName(ctx, "a", "Jane Q Doe", oct(12, 20, 0)))
	got, err := repo.GetCadet(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Jane Q Doe", got.Name)
	assert.ErrorIs(t, repo.UpdateCadetName(ctx, "zzz", "x", oct(12, 20, 0)), ErrNotFound)
}

func TestMemoryRepositorySessions(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateSession(ctx, closed("s2", "c", oct(14, 19, 30), oct(14, 20, 0))))
	require.NoError(t, repo.CreateSession(ctx, closed("s1", "c", oct(12, 19, 30), oct(12, 20, 0))))
	require.NoError(t, repo.CreateSession(ctx, Session{ID: "s3", CadetID: "c", Start: oct(21, 19, 30)}))
	require.NoError(t, repo.CreateSession(ctx, Session{ID: "x", CadetID: "other", Start: oct(21, 19, 35)}))
	assert.ErrorIs(t, repo.CreateSession(ctx, Session{ID: "s1", CadetID: "c"}), ErrConflict)

	mine, err := repo.ListSessionsByCadet(ctx, "c")
	require.NoError(t, err)
	require.Len(t, mine, 3)
	assert.Equal(t, []string{"s1", "s2", "s3"}, []string{mine[0].ID, mine[1].ID, mine[2].ID})

	open, err := repo.ListOpenSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	// Mutating a returned session must not leak into the store.
	*mine[0].End = oct(30, 0, 0)
	again, err := repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, again.End.Equal(oct(12, 20, 0)))

	voided, err := repo.VoidSessionsByCadet(ctx, "c", oct(22, 0, 0))
	require.NoError(t, err)
	assert.Len(t, voided, 3)
	assert.False(t, voided[0].Void)

	all, err := repo.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "x", all[0].ID)

	voided, err = repo.VoidSessionsByCadet(ctx, "c", oct(22, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, voided)

	assert.ErrorIs(t, repo.UpdateSession(ctx, Session{ID: "nope"}), ErrNotFound)
}

func TestMemoryRepositoryOverrides(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.PutOverride(ctx, Override{CadetID: "a", Minutes: 10}))
	require.NoError(t, repo.PutOverride(ctx, Override{CadetID: "a", Minutes: 20}))

	got, err := repo.GetOverride(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 20, got.Minutes)

	all, err := repo.ListOverrides(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.DeleteOverride(ctx, "a"))
	assert.ErrorIs(t, repo.DeleteOverride(ctx, "a"), ErrNotFound)
	_, err = repo.GetOverride(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}
