// Package registry discovers and loads pluggable modules by identifier.
//
// Discovery is filesystem driven: each category has a configured directory
// holding one `<id>.json` manifest per module, and the manifest's id must
// match its filename. Construction is explicit: builtin module constructors
// register themselves at boot, and Load joins a discovered manifest with
// the registered constructor of the same id. A manifest without a matching
// constructor (or vice versa) fails the capability contract.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// Category tags a module kind.
type Category string

const (
	CategoryConnector        Category = "connector"
	CategoryMetric           Category = "metric"
	CategoryAttackModule     Category = "attack_module"
	CategoryContextStrategy  Category = "context_strategy"
	CategoryRunnerProcessing Category = "runner_processing_module"
	CategoryResultProcessing Category = "result_processing_module"
)

// ModuleMetadata is the descriptor stored in a module's manifest file.
type ModuleMetadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Registry resolves module identifiers to constructors and metadata. It is
// read-only after boot: all Register* calls happen during process startup,
// and the mutex only guards against races between startup and first use.
type Registry struct {
	mu   sync.RWMutex
	dirs map[Category]string

	connectors        map[string]ConnectorFactory
	metrics           map[string]MetricFactory
	contextStrategies map[string]ContextStrategyFactory
	attackModules     map[string]AttackModuleFactory
	runnerProcessing  map[string]RunnerProcessingFactory
	resultProcessing  map[string]ResultProcessingFactory
}

// New creates a Registry over the given category directories. Categories
// with no directory configured discover nothing.
func New(dirs map[Category]string) *Registry {
	return &Registry{
		dirs:              dirs,
		connectors:        make(map[string]ConnectorFactory),
		metrics:           make(map[string]MetricFactory),
		contextStrategies: make(map[string]ContextStrategyFactory),
		attackModules:     make(map[string]AttackModuleFactory),
		runnerProcessing:  make(map[string]RunnerProcessingFactory),
		resultProcessing:  make(map[string]ResultProcessingFactory),
	}
}

// RegisterConnector registers a connector constructor under id.
func (r *Registry) RegisterConnector(id string, factory ConnectorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[id] = factory
}

// RegisterMetric registers a metric constructor under id.
func (r *Registry) RegisterMetric(id string, factory MetricFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[id] = factory
}

// RegisterContextStrategy registers a context strategy constructor under id.
func (r *Registry) RegisterContextStrategy(id string, factory ContextStrategyFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contextStrategies[id] = factory
}

// RegisterAttackModule registers an attack module constructor under id.
func (r *Registry) RegisterAttackModule(id string, factory AttackModuleFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attackModules[id] = factory
}

// RegisterRunnerProcessing registers a runner processing module constructor
// under id.
func (r *Registry) RegisterRunnerProcessing(id string, factory RunnerProcessingFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runnerProcessing[id] = factory
}

// RegisterResultProcessing registers a result processing module constructor
// under id.
func (r *Registry) RegisterResultProcessing(id string, factory ResultProcessingFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resultProcessing[id] = factory
}

// GetAvailable discovers the modules of a category, returning ids and
// manifests in lexicographic id order. Files named with a leading "__" are
// skipped.
func (r *Registry) GetAvailable(category Category) ([]string, []ModuleMetadata, error) {
	dir, ok := r.dirs[category]
	if !ok || dir == "" {
		return nil, nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, types.WrapError(types.IO_FAILED, "scanning "+dir, err)
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
		if ext == "" {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	sort.Strings(ids)

	metas := make([]ModuleMetadata, 0, len(ids))
	for _, id := range ids {
		meta, err := r.Metadata(category, id)
		if err != nil {
			// Manifest parse failures degrade to name-only metadata so a
			// single bad file does not hide the rest of the category.
			meta = ModuleMetadata{ID: id, Name: id}
		}
		metas = append(metas, meta)
	}
	return ids, metas, nil
}

// Metadata reads a module's manifest without instantiating it.
func (r *Registry) Metadata(category Category, id string) (ModuleMetadata, error) {
	path, err := r.manifestPath(category, id)
	if err != nil {
		return ModuleMetadata{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ModuleMetadata{}, types.NewError(types.MODULE_NOT_FOUND,
				string(category)+" module "+id+" does not exist")
		}
		return ModuleMetadata{}, types.WrapError(types.IO_FAILED, "reading "+path, err)
	}
	var meta ModuleMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ModuleMetadata{}, types.WrapError(types.MODULE_INVALID, "parsing manifest "+path, err)
	}
	if meta.ID != id {
		return ModuleMetadata{}, types.NewError(types.MODULE_INVALID,
			"manifest id "+meta.ID+" does not match module file "+id)
	}
	return meta, nil
}

// LoadConnector resolves and constructs the connector module for an
// endpoint descriptor.
func (r *Registry) LoadConnector(id string, endpoint *types.Endpoint) (Connector, error) {
	if err := r.checkDiscovered(CategoryConnector, id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.connectors[id]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.MODULE_INVALID,
			"connector module "+id+" has no registered constructor")
	}
	instance, err := factory(endpoint)
	if err != nil {
		return nil, types.WrapError(types.MODULE_INVALID, "constructing connector "+id, err)
	}
	return instance, nil
}

// LoadMetric resolves and constructs a metric module.
func (r *Registry) LoadMetric(id string) (Metric, error) {
	if err := r.checkDiscovered(CategoryMetric, id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.metrics[id]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.MODULE_INVALID,
			"metric module "+id+" has no registered constructor")
	}
	instance, err := factory()
	if err != nil {
		return nil, types.WrapError(types.MODULE_INVALID, "constructing metric "+id, err)
	}
	return instance, nil
}

// LoadContextStrategy resolves and constructs a context strategy module.
func (r *Registry) LoadContextStrategy(id string) (ContextStrategy, error) {
	if err := r.checkDiscovered(CategoryContextStrategy, id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.contextStrategies[id]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.MODULE_INVALID,
			"context strategy module "+id+" has no registered constructor")
	}
	instance, err := factory()
	if err != nil {
		return nil, types.WrapError(types.MODULE_INVALID, "constructing context strategy "+id, err)
	}
	return instance, nil
}

// LoadAttackModule resolves and constructs an attack module bound to args.
func (r *Registry) LoadAttackModule(id string, args AttackModuleArguments) (AttackModule, error) {
	if err := r.checkDiscovered(CategoryAttackModule, id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.attackModules[id]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.MODULE_INVALID,
			"attack module "+id+" has no registered constructor")
	}
	args.AttackModuleID = id
	instance, err := factory(args)
	if err != nil {
		return nil, types.WrapError(types.MODULE_INVALID, "constructing attack module "+id, err)
	}
	return instance, nil
}

// LoadRunnerProcessing resolves and constructs a runner processing module.
func (r *Registry) LoadRunnerProcessing(id string) (RunnerProcessing, error) {
	if err := r.checkDiscovered(CategoryRunnerProcessing, id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.runnerProcessing[id]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.MODULE_INVALID,
			"runner processing module "+id+" has no registered constructor")
	}
	instance, err := factory()
	if err != nil {
		return nil, types.WrapError(types.MODULE_INVALID, "constructing runner processing module "+id, err)
	}
	return instance, nil
}

// LoadResultProcessing resolves and constructs a result processing module.
func (r *Registry) LoadResultProcessing(id string) (ResultProcessing, error) {
	if err := r.checkDiscovered(CategoryResultProcessing, id); err != nil {
		return nil, err
	}
	r.mu.RLock()
	factory, ok := r.resultProcessing[id]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.MODULE_INVALID,
			"result processing module "+id+" has no registered constructor")
	}
	instance, err := factory()
	if err != nil {
		return nil, types.WrapError(types.MODULE_INVALID, "constructing result processing module "+id, err)
	}
	return instance, nil
}

// checkDiscovered verifies a manifest file exists for the module. When the
// category has no configured directory, registered constructors stand on
// their own.
func (r *Registry) checkDiscovered(category Category, id string) error {
	if err := types.ValidateSlug(id); err != nil {
		return err
	}
	dir, ok := r.dirs[category]
	if !ok || dir == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, id+".*"))
	if err != nil {
		return types.WrapError(types.IO_FAILED, "scanning for module "+id, err)
	}
	for _, m := range matches {
		if !strings.HasPrefix(filepath.Base(m), "__") {
			return nil
		}
	}
	return types.NewError(types.MODULE_NOT_FOUND,
		string(category)+" module "+id+" does not exist")
}

func (r *Registry) manifestPath(category Category, id string) (string, error) {
	if err := types.ValidateSlug(id); err != nil {
		return "", err
	}
	dir, ok := r.dirs[category]
	if !ok || dir == "" {
		return "", types.NewError(types.MODULE_NOT_FOUND,
			"no directory configured for category "+string(category))
	}
	return filepath.Join(dir, id+".json"), nil
}

// WriteManifest writes a module manifest into its category directory,
// creating the directory when needed. Used at boot to publish builtin
// modules for discovery.
func (r *Registry) WriteManifest(category Category, meta ModuleMetadata) error {
	path, err := r.manifestPath(category, meta.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return types.WrapError(types.IO_FAILED, "creating module directory", err)
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return types.WrapError(types.VALIDATION_FAILED, "serializing manifest "+meta.ID, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return types.WrapError(types.IO_FAILED, "writing manifest "+path, err)
	}
	return nil
}
