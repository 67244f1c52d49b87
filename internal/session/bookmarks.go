package session

import (
	"time"

	"github.com/aiverify-foundation/moonshot-sub003/internal/storage"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// Bookmarks captures notable chat exchanges as named objects in the
// bookmarks directory.
type Bookmarks struct {
	store *storage.ObjectStore
}

// NewBookmarks creates a bookmark store.
func NewBookmarks(store *storage.ObjectStore) *Bookmarks {
	return &Bookmarks{store: store}
}

// Add saves a bookmark under the slug of its name. Duplicate names fail
// with AlreadyExists.
func (b *Bookmarks) Add(record types.BookmarkRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.BookmarkTime == "" {
		record.BookmarkTime = time.Now().UTC().Format(time.RFC3339)
	}
	id := types.Slugify(record.Name)
	if err := types.ValidateSlug(id); err != nil {
		return err
	}
	return b.store.Create(storage.CategoryBookmarks, id, &record)
}

// Get fetches one bookmark by name.
func (b *Bookmarks) Get(name string) (*types.BookmarkRecord, error) {
	id := types.Slugify(name)
	record := new(types.BookmarkRecord)
	if err := b.store.Read(storage.CategoryBookmarks, id, record); err != nil {
		return nil, err
	}
	return record, nil
}

// List returns every stored bookmark in id order.
func (b *Bookmarks) List() ([]types.BookmarkRecord, error) {
	ids, err := b.store.IterObjects(storage.CategoryBookmarks)
	if err != nil {
		return nil, err
	}
	records := make([]types.BookmarkRecord, 0, len(ids))
	for _, id := range ids {
		var record types.BookmarkRecord
		if err := b.store.Read(storage.CategoryBookmarks, id, &record); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Delete removes one bookmark by name.
func (b *Bookmarks) Delete(name string) error {
	id := types.Slugify(name)
	return b.store.Delete(storage.CategoryBookmarks, id, storage.ExtJSON)
}
