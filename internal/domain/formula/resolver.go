package formula

// Scope selects which dependency edges a resolution follows.
type Scope int

const (
	// ScopeAll follows build and runtime dependencies.
	ScopeAll Scope = iota
	// ScopeRuntime follows runtime dependencies only.
	ScopeRuntime
)

func (s Scope) edges(d Descriptor) []string {
	if s == ScopeRuntime {
		return d.runtimeDeps
	}
	return d.Dependencies()
}

type visitState int

const (
	unvisited visitState = iota
	active
	done
)

// Resolve returns target and everything it transitively depends on, each
// exactly once, every dependency before its dependents. Independent
// dependencies keep their declared order (build deps, then runtime deps).
//
// A missing name fails with *UnknownDependencyError and a cycle with
// *CyclicDependencyError; no partial order is returned.
func Resolve(target string, registry *Registry) ([]Descriptor, error) {
	return ResolveScope(target, registry, ScopeAll)
}

// ResolveRuntime is Resolve restricted to runtime edges.
func ResolveRuntime(target string, registry *Registry) ([]Descriptor, error) {
	return ResolveScope(target, registry, ScopeRuntime)
}

// ResolveScope resolves target following the edges selected by scope.
func ResolveScope(target string, registry *Registry, scope Scope) ([]Descriptor, error) {
	r := &resolver{
		registry: registry,
		scope:    scope,
		state:    make(map[string]visitState),
	}
	if err := r.visit(target, ""); err != nil {
		return nil, err
	}
	return r.order, nil
}

type resolver struct {
	registry *Registry
	scope    Scope
	state    map[string]visitState
	path     []string
	order    []Descriptor
}

func (r *resolver) visit(name, requiredBy string) error {
	d, ok := r.registry.Get(name)
	if !ok {
		return &UnknownDependencyError{Name: name, RequiredBy: requiredBy}
	}

	switch r.state[name] {
	case done:
		return nil
	case active:
		return &CyclicDependencyError{Cycle: r.cycleTo(name)}
	}

	r.state[name] = active
	r.path = append(r.path, name)

	for _, dep := range r.scope.edges(d) {
		if err := r.visit(dep, name); err != nil {
			return err
		}
	}

	r.path = r.path[:len(r.path)-1]
	r.state[name] = done
	r.order = append(r.order, d)
	return nil
}

// cycleTo returns the active path from name back to name.
func (r *resolver) cycleTo(name string) []string {
	for i, n := range r.path {
		if n == name {
			cycle := make([]string, 0, len(r.path)-i+1)
			cycle = append(cycle, r.path[i:]...)
			return append(cycle, name)
		}
	}
	return []string{name, name}
}

// DependencyGraph maps each resolved formula to its dependencies within
// the resolved set. It is derived from a resolution and never persisted.
type DependencyGraph struct {
	deps       map[string][]string
	dependents map[string][]string
}

// NewDependencyGraph derives the graph of an ordered resolution.
func NewDependencyGraph(order []Descriptor, scope Scope) *DependencyGraph {
	g := &DependencyGraph{
		deps:       make(map[string][]string, len(order)),
		dependents: make(map[string][]string, len(order)),
	}
	for _, d := range order {
		g.deps[d.Name()] = nil
	}
	for _, d := range order {
		for _, dep := range scope.edges(d) {
			if _, ok := g.deps[dep]; !ok {
				continue
			}
			g.deps[d.Name()] = append(g.deps[d.Name()], dep)
			g.dependents[dep] = append(g.dependents[dep], d.Name())
		}
	}
	return g
}

// Dependencies returns the direct dependencies of name.
func (g *DependencyGraph) Dependencies(name string) []string {
	return copyStrings(g.deps[name])
}

// Dependents returns the formulas that directly depend on name.
func (g *DependencyGraph) Dependents(name string) []string {
	return copyStrings(g.dependents[name])
}

// Len returns the number of formulas in the graph.
func (g *DependencyGraph) Len() int {
	return len(g.deps)
}
