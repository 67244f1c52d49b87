package connector

import (
	"log/slog"

	"github.com/aiverify-foundation/moonshot-sub003/internal/registry"
	"github.com/aiverify-foundation/moonshot-sub003/internal/storage"
	"github.com/aiverify-foundation/moonshot-sub003/internal/types"
)

// Pool owns the connector instances and dispatchers of one run: one per
// endpoint, shared by every engine task, closed when the Runner closes.
type Pool struct {
	dispatchers map[string]*Dispatcher
	order       []string
}

// NewPool resolves every endpoint descriptor through the object store,
// loads its connector module from the registry, and wraps it in a
// dispatcher.
func NewPool(store *storage.ObjectStore, reg *registry.Registry, endpointIDs []string, opts Options) (*Pool, error) {
	pool := &Pool{dispatchers: make(map[string]*Dispatcher, len(endpointIDs))}
	for _, id := range endpointIDs {
		var endpoint types.Endpoint
		if err := store.Read(storage.CategoryConnectorEndpoints, id, &endpoint); err != nil {
			pool.Close()
			return nil, err
		}
		if err := endpoint.Validate(); err != nil {
			pool.Close()
			return nil, err
		}
		conn, err := reg.LoadConnector(endpoint.ConnectorType, &endpoint)
		if err != nil {
			pool.Close()
			return nil, err
		}
		pool.dispatchers[id] = NewDispatcher(&endpoint, conn, opts)
		pool.order = append(pool.order, id)
	}
	return pool, nil
}

// Dispatcher returns the dispatcher for an endpoint id.
func (p *Pool) Dispatcher(endpointID string) (*Dispatcher, error) {
	d, ok := p.dispatchers[endpointID]
	if !ok {
		return nil, types.NewError(types.NOT_FOUND, "no connector for endpoint "+endpointID)
	}
	return d, nil
}

// EndpointIDs returns the endpoint ids in construction order.
func (p *Pool) EndpointIDs() []string {
	return p.order
}

// Close closes every connector instance. Close failures are logged, not
// propagated, so one bad connector cannot block Runner shutdown.
func (p *Pool) Close() {
	for id, d := range p.dispatchers {
		if err := d.Connector().Close(); err != nil {
			slog.Warn("closing connector failed", "endpoint", id, "error", err)
		}
	}
}
