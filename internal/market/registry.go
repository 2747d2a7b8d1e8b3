package market

import "sync"

// Registry tracks the live markets of the process by id, in open order.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*Market
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{markets: make(map[string]*Market)}
}

// Open creates a market from cfg and registers it.
func (r *Registry) Open(cfg Config) *Market {
	m := Open(cfg)
	r.mu.Lock()
	r.markets[m.ID()] = m
	r.order = append(r.order, m.ID())
	r.mu.Unlock()
	return m
}

// Get looks a market up by id.
func (r *Registry) Get(id string) (*Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	if !ok {
		return nil, ErrUnknownMarket
	}
	return m, nil
}

// List returns the registered markets in the order they were opened.
func (r *Registry) List() []*Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Market, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.markets[id])
	}
	return out
}

// Close transitions the market to read-only. The market stays listed so its
// trades and statistics remain queryable.
func (r *Registry) Close(id string) error {
	m, err := r.Get(id)
	if err != nil {
		return err
	}
	m.Close()
	return nil
}
