package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aiverify-foundation/moonshot-sub003/internal/config"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// Category identifies an object store category. Each category maps to one
// configured directory holding flat `<id>.<ext>` files.
type Category string

const (
	CategoryAttackModules      Category = "attack_modules"
	CategoryConnectors         Category = "connectors"
	CategoryConnectorEndpoints Category = "connectors_endpoints"
	CategoryContextStrategy    Category = "context_strategy"
	CategoryCookbooks          Category = "cookbooks"
	CategoryDatabases          Category = "databases"
	CategoryDatasets           Category = "datasets"
	CategoryIOModules          Category = "io_modules"
	CategoryMetrics            Category = "metrics"
	CategoryPromptTemplates    Category = "prompt_templates"
	CategoryRecipes            Category = "recipes"
	CategoryResults            Category = "results"
	CategoryRunners            Category = "runners"
	CategoryBookmarks          Category = "bookmarks"
)

// Extension enumerates the file extensions the store manages.
type Extension string

const (
	ExtJSON Extension = "json"
	ExtDB   Extension = "db"
)

// ObjectStore addresses JSON objects and database files by (category, id,
// extension) on a flat filesystem layout.
type ObjectStore struct {
	dirs map[Category]string
}

// NewObjectStore builds an ObjectStore over the configured directory roots.
func NewObjectStore(cfg *config.Config) *ObjectStore {
	return &ObjectStore{
		dirs: map[Category]string{
			CategoryAttackModules:      cfg.Dirs.AttackModules,
			CategoryConnectors:         cfg.Dirs.Connectors,
			CategoryConnectorEndpoints: cfg.Dirs.ConnectorEndpoints,
			CategoryContextStrategy:    cfg.Dirs.ContextStrategy,
			CategoryCookbooks:          cfg.Dirs.Cookbooks,
			CategoryDatabases:          cfg.Dirs.Databases,
			CategoryDatasets:           cfg.Dirs.Datasets,
			CategoryIOModules:          cfg.Dirs.IOModules,
			CategoryMetrics:            cfg.Dirs.Metrics,
			CategoryPromptTemplates:    cfg.Dirs.PromptTemplates,
			CategoryRecipes:            cfg.Dirs.Recipes,
			CategoryResults:            cfg.Dirs.Results,
			CategoryRunners:            cfg.Dirs.Runners,
			CategoryBookmarks:          cfg.Dirs.Bookmarks,
		},
	}
}

// Dir returns the directory root for a category.
func (s *ObjectStore) Dir(category Category) (string, error) {
	dir, ok := s.dirs[category]
	if !ok {
		return "", types.NewError(types.VALIDATION_FAILED, "unknown object category: "+string(category))
	}
	return dir, nil
}

// GetFilepath returns the path an object occupies, whether or not it exists.
func (s *ObjectStore) GetFilepath(category Category, id string, ext Extension) (string, error) {
	dir, err := s.Dir(category)
	if err != nil {
		return "", err
	}
	if err := types.ValidateSlug(id); err != nil {
		return "", err
	}
	return filepath.Join(dir, id+"."+string(ext)), nil
}

// Exists reports whether the object is present.
func (s *ObjectStore) Exists(category Category, id string, ext Extension) (bool, error) {
	path, err := s.GetFilepath(category, id, ext)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, types.WrapError(types.IO_FAILED, "stat "+path, err)
}

// Read unmarshals the JSON object identified by (category, id) into out.
func (s *ObjectStore) Read(category Category, id string, out any) error {
	path, err := s.GetFilepath(category, id, ExtJSON)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.NewError(types.NOT_FOUND,
				string(category)+" object "+id+" does not exist")
		}
		return types.WrapError(types.IO_FAILED, "reading "+path, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return types.WrapError(types.VALIDATION_FAILED, "parsing "+path, err)
	}
	return nil
}

// Create writes a new JSON object and fails with ALREADY_EXISTS when the
// slug already resolves in its category.
func (s *ObjectStore) Create(category Category, id string, obj any) error {
	exists, err := s.Exists(category, id, ExtJSON)
	if err != nil {
		return err
	}
	if exists {
		return types.NewError(types.ALREADY_EXISTS,
			string(category)+" object "+id+" already exists")
	}
	return s.CreateOrReplace(category, id, obj)
}

// CreateOrReplace writes the JSON object, replacing any existing file. The
// write goes through a temp file and rename so readers never observe a
// partial object.
func (s *ObjectStore) CreateOrReplace(category Category, id string, obj any) error {
	path, err := s.GetFilepath(category, id, ExtJSON)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.WrapError(types.IO_FAILED, "creating directory for "+path, err)
	}
	raw, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return types.WrapError(types.VALIDATION_FAILED, "serializing "+id, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return types.WrapError(types.IO_FAILED, "writing "+tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return types.WrapError(types.IO_FAILED, "renaming "+tmp, err)
	}
	return nil
}

// Delete removes the object; missing objects report NOT_FOUND.
func (s *ObjectStore) Delete(category Category, id string, ext Extension) error {
	path, err := s.GetFilepath(category, id, ext)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return types.NewError(types.NOT_FOUND,
				string(category)+" object "+id+" does not exist")
		}
		return types.WrapError(types.IO_FAILED, "removing "+path, err)
	}
	return nil
}

// IterObjects lists the object ids present in a category, lexicographically
// ordered. Files whose names begin with "__" are skipped.
func (s *ObjectStore) IterObjects(category Category) ([]string, error) {
	dir, err := s.Dir(category)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.WrapError(types.IO_FAILED, "listing "+dir, err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "__") {
			continue
		}
		ext := filepath.Ext(name)
		if ext == "" || ext == ".tmp" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	sort.Strings(ids)
	return ids, nil
}
