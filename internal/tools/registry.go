package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/modelexchange/mxf/pkg/models"
)

// Registry holds the tool set visible to one agent: internal tools
// registered in-process and remote tools discovered from the server.
// The remote snapshot is cached; Invalidate marks it stale and the next
// Specs call refetches. Phase gates use Refresh(ctx, true) to bypass
// the cache entirely.
type Registry struct {
	mu       sync.RWMutex
	internal map[string]Tool
	remote   map[string]models.ToolSpec
	fresh    bool

	lister Lister
	logger *slog.Logger
}

// NewRegistry creates a registry. lister may be nil for agents with no
// remote tool source.
func NewRegistry(lister Lister, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		internal: make(map[string]Tool),
		remote:   make(map[string]models.ToolSpec),
		lister:   lister,
		logger:   logger,
	}
}

// Register adds an internal tool. Registering the same name twice
// replaces the earlier tool.
func (r *Registry) Register(tool Tool) error {
	if tool == nil || tool.Name() == "" {
		return fmt.Errorf("tool must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.internal[tool.Name()] = tool
	return nil
}

// Refresh refetches the remote tool snapshot. With force=false a fresh
// cache is left untouched.
func (r *Registry) Refresh(ctx context.Context, force bool) error {
	r.mu.RLock()
	fresh := r.fresh
	lister := r.lister
	r.mu.RUnlock()

	if lister == nil {
		return nil
	}
	if fresh && !force {
		return nil
	}

	specs, err := lister.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("refresh tool list: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote = make(map[string]models.ToolSpec, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			continue
		}
		spec.Source = models.ToolSourceRemote
		r.remote[spec.Name] = spec
	}
	r.fresh = true
	r.logger.Debug("tool cache refreshed", "remote_tools", len(specs), "forced", force)
	return nil
}

// Invalidate marks the remote snapshot stale. Called on tools:updated
// events and on phase transitions that alter the allow-list.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.fresh = false
	r.mu.Unlock()
}

// Specs returns the full tool set, remote snapshot refreshed if stale.
// Internal tools shadow remote tools with the same name.
func (r *Registry) Specs(ctx context.Context) ([]models.ToolSpec, error) {
	if err := r.Refresh(ctx, false); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]models.ToolSpec, 0, len(r.internal)+len(r.remote))
	for name, spec := range r.remote {
		if _, shadowed := r.internal[name]; shadowed {
			continue
		}
		specs = append(specs, spec)
	}
	for _, tool := range r.internal {
		specs = append(specs, models.ToolSpec{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Schema(),
			Source:      models.ToolSourceInternal,
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs, nil
}

// Lookup resolves a name to an internal tool or a remote spec.
func (r *Registry) Lookup(name string) (Tool, *models.ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool, ok := r.internal[name]; ok {
		return tool, nil, true
	}
	if spec, ok := r.remote[name]; ok {
		return nil, &spec, true
	}
	return nil, nil, false
}

// Search returns specs whose name or description contains the query,
// case-insensitively. Used by the tool recommender.
func (r *Registry) Search(ctx context.Context, query string) ([]models.ToolSpec, error) {
	specs, err := r.Specs(ctx)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return specs, nil
	}
	matched := specs[:0]
	for _, spec := range specs {
		if containsFold(spec.Name, query) || containsFold(spec.Description, query) {
			matched = append(matched, spec)
		}
	}
	return matched, nil
}
