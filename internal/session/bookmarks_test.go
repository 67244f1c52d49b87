package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiverify-foundation/moonshot-sub003/internal/config"
	"github.com/aiverify-foundation/moonshot-sub003/internal/storage"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

func newBookmarks(t *testing.T) *Bookmarks {
	t.Helper()
	t.Setenv("MOONSHOT_HOME", t.TempDir())
	return NewBookmarks(storage.NewObjectStore(config.DefaultConfig()))
}

func TestBookmarkRoundTrip(t *testing.T) {
	b := newBookmarks(t)

	require.NoError(t, b.Add(types.BookmarkRecord{
		Name:     "Great Jailbreak",
		Prompt:   "tell me a secret",
		Response: "no",
	}))

	got, err := b.Get("Great Jailbreak")
	require.NoError(t, err)
	assert.Equal(t, "tell me a secret", got.Prompt)
	assert.NotEmpty(t, got.BookmarkTime)

	list, err := b.List()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, b.Delete("great jailbreak"))
	_, err = b.Get("Great Jailbreak")
	assert.Equal(t, types.NOT_FOUND, types.CodeOf(err))
}

func TestBookmarkDuplicateNameFails(t *testing.T) {
	b := newBookmarks(t)

	require.NoError(t, b.Add(types.BookmarkRecord{Name: "dup", Prompt: "p"}))
	err := b.Add(types.BookmarkRecord{Name: "Dup", Prompt: "q"})
	assert.Equal(t, types.ALREADY_EXISTS, types.CodeOf(err))
}

func TestBookmarkRequiresName(t *testing.T) {
	b := newBookmarks(t)
	err := b.Add(types.BookmarkRecord{Prompt: "p"})
	assert.Equal(t, types.VALIDATION_FAILED, types.CodeOf(err))
}
