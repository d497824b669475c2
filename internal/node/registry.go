package node

import "sync"

// Registry holds the running nodes, preserving configuration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	nodes map[string]*Node
}

func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// Add registers a node under its feed name.
func (r *Registry) Add(n *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[n.Name()]; !ok {
		r.order = append(r.order, n.Name())
	}
	r.nodes[n.Name()] = n
}

// Get returns the node for a feed name.
func (r *Registry) Get(name string) (*Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[name]
	return n, ok
}

// List returns all nodes in the order they were added.
func (r *Registry) List() []*Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Node, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.nodes[name])
	}
	return out
}
