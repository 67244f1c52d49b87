package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiverify-foundation/moonshot-sub003/internal/config"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

func testStore(t *testing.T) *ObjectStore {
	t.Helper()
	t.Setenv("MOONSHOT_HOME", t.TempDir())
	return NewObjectStore(config.DefaultConfig())
}

func TestObjectStoreCreateReadDelete(t *testing.T) {
	store := testStore(t)

	recipe := &types.Recipe{
		ID:       "bbq",
		Name:     "BBQ",
		Datasets: []string{"bbq-lite-age-ambiguous"},
		Metrics:  []string{"exactstrmatch"},
	}
	require.NoError(t, store.Create(CategoryRecipes, recipe.ID, recipe))

	var loaded types.Recipe
	require.NoError(t, store.Read(CategoryRecipes, "bbq", &loaded))
	assert.Equal(t, recipe.Name, loaded.Name)
	assert.Equal(t, recipe.Datasets, loaded.Datasets)

	require.NoError(t, store.Delete(CategoryRecipes, "bbq", ExtJSON))
	err := store.Read(CategoryRecipes, "bbq", &loaded)
	assert.Equal(t, types.NOT_FOUND, types.CodeOf(err))
}

func TestObjectStoreCreateCollision(t *testing.T) {
	store := testStore(t)

	recipe := &types.Recipe{ID: "arc", Name: "ARC", Datasets: []string{"d"}, Metrics: []string{"m"}}
	require.NoError(t, store.Create(CategoryRecipes, recipe.ID, recipe))

	err := store.Create(CategoryRecipes, recipe.ID, recipe)
	require.Error(t, err)
	assert.Equal(t, types.ALREADY_EXISTS, types.CodeOf(err))

	// CreateOrReplace overwrites without complaint.
	recipe.Name = "ARC v2"
	require.NoError(t, store.CreateOrReplace(CategoryRecipes, recipe.ID, recipe))
	var loaded types.Recipe
	require.NoError(t, store.Read(CategoryRecipes, "arc", &loaded))
	assert.Equal(t, "ARC v2", loaded.Name)
}

func TestObjectStoreRejectsBadSlug(t *testing.T) {
	store := testStore(t)
	err := store.Create(CategoryRecipes, "Bad Slug", &types.Recipe{})
	assert.Equal(t, types.VALIDATION_FAILED, types.CodeOf(err))

	_, err = store.GetFilepath(CategoryRecipes, "../escape", ExtJSON)
	assert.Error(t, err)
}

func TestObjectStoreIterObjects(t *testing.T) {
	store := testStore(t)

	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, store.Create(CategoryCookbooks, id,
			&types.Cookbook{ID: id, Recipes: []string{"r"}}))
	}
	// Double-underscore files are excluded from discovery.
	dir, err := store.Dir(CategoryCookbooks)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "__init.json"), []byte("{}"), 0o644))

	ids, err := store.IterObjects(CategoryCookbooks)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, ids)
}

func TestObjectStoreIterMissingDir(t *testing.T) {
	store := testStore(t)
	ids, err := store.IterObjects(CategoryDatasets)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestObjectStoreExists(t *testing.T) {
	store := testStore(t)

	ok, err := store.Exists(CategoryRunners, "my-runner", ExtJSON)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Create(CategoryRunners, "my-runner",
		&types.RunnerArguments{ID: "my-runner", Endpoints: []string{"ep"}}))
	ok, err = store.Exists(CategoryRunners, "my-runner", ExtJSON)
	require.NoError(t, err)
	assert.True(t, ok)
}
