package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/kernelforge/internal/fault"
)

// Planner builds the plan of one workflow variant from a raw configuration bundle.
type Planner interface {
	// Plan decodes and validates the bundle. Errors wrap fault.ErrConfiguration
	// or fault.ErrMatchNotFound and are raised before any remote call.
	Plan(bundle []byte) (Plan, error)

	// Describe returns the variant's static shape.
	Describe() VariantInfo
}

// VariantInfo describes a registered variant.
type VariantInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Stages      []string `json:"stages"`
	Groups      []string `json:"groups"`
	Default     bool     `json:"default"`
}

// Registry holds the registered workflow variants and resolves which one a
// run uses.
type Registry struct {
	mu       sync.RWMutex
	planners map[string]Planner
	fallback string
}

// NewRegistry creates an empty variant registry.
func NewRegistry() *Registry {
	return &Registry{
		planners: make(map[string]Planner),
	}
}

// Register adds a planner under the given variant name.
func (r *Registry) Register(name string, p Planner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planners[name] = p
}

// SetDefault names the variant used when a run does not pick one.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = name
}

// Resolve returns the planner for variant. An empty variant resolves to the
// default. An unknown variant is a configuration error.
func (r *Registry) Resolve(variant string) (Planner, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target := variant
	if target == "" {
		if r.fallback == "" {
			return nil, "", fault.Configf("no variant requested and no default variant configured")
		}
		target = r.fallback
	}

	p, ok := r.planners[target]
	if !ok {
		return nil, target, fault.Configf("variant %q is not registered", target)
	}
	return p, target, nil
}

// Plan resolves variant and builds its plan from bundle.
func (r *Registry) Plan(variant string, bundle []byte) (Plan, error) {
	p, name, err := r.Resolve(variant)
	if err != nil {
		return Plan{Variant: name}, err
	}
	plan, err := p.Plan(bundle)
	if err != nil {
		return Plan{Variant: name}, fmt.Errorf("plan %s: %w", name, err)
	}
	plan.Variant = name
	return plan, nil
}

// List returns information about all registered variants, sorted by name
// for a stable API response.
func (r *Registry) List() []VariantInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]VariantInfo, 0, len(r.planners))
	for name, p := range r.planners {
		info := p.Describe()
		info.Name = name
		info.Default = name == r.fallback
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
