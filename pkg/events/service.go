package events

import "context"

// Service is a named unit of lifecycle-managed behavior composed
// into a ServiceGroup rather than built through inheritance. It
// mirrors the chimerapy Service/ServiceGroup composition primitive:
// a Manager, WorkerHandler, Worker, or NodeHandler is built from a
// handful of Services, each responsible for one concern (the HTTP
// server, the heartbeat loop, the lifecycle poller, ...).
type Service interface {
	Name() string
	Shutdown(ctx context.Context) error
}

// ServiceGroup holds a set of named Services and applies a method by
// name across an explicit ordering, the same way ServiceGroup.apply
// and ServiceGroup.async_apply do.
type ServiceGroup struct {
	services map[string]Service
	order    []string
}

// NewServiceGroup builds an empty ServiceGroup.
func NewServiceGroup() *ServiceGroup {
	return &ServiceGroup{services: make(map[string]Service)}
}

// Add registers a Service under its own Name(), appending it to the
// default apply order.
func (g *ServiceGroup) Add(s Service) {
	g.services[s.Name()] = s
	g.order = append(g.order, s.Name())
}

// Get returns the Service registered under name, if any.
func (g *ServiceGroup) Get(name string) (Service, bool) {
	s, ok := g.services[name]
	return s, ok
}

// Apply calls fn on every Service whose name is in order, in that
// order; an empty order applies to every registered Service in
// registration order.
func (g *ServiceGroup) Apply(order []string, fn func(Service) error) error {
	for _, name := range g.resolveOrder(order) {
		svc, ok := g.services[name]
		if !ok {
			continue
		}
		if err := fn(svc); err != nil {
			return err
		}
	}
	return nil
}

// AsyncApply runs fn for every Service concurrently, still following
// the id ordering implied by order only for its return aggregation,
// not for execution order (the original's async_apply has no
// ordering guarantee across concurrent calls either).
func (g *ServiceGroup) AsyncApply(ctx context.Context, order []string, fn func(context.Context, Service) error) map[string]error {
	names := g.resolveOrder(order)
	results := make(map[string]error, len(names))
	errCh := make(chan struct {
		name string
		err  error
	}, len(names))

	for _, name := range names {
		svc, ok := g.services[name]
		if !ok {
			continue
		}
		go func(name string, svc Service) {
			errCh <- struct {
				name string
				err  error
			}{name, fn(ctx, svc)}
		}(name, svc)
	}

	for range names {
		r := <-errCh
		results[r.name] = r.err
	}
	return results
}

func (g *ServiceGroup) resolveOrder(order []string) []string {
	if len(order) > 0 {
		return order
	}
	return g.order
}

// ShutdownAll shuts every Service down in registration order,
// collecting the first error but still attempting every Service.
func (g *ServiceGroup) ShutdownAll(ctx context.Context) error {
	var first error
	_ = g.Apply(nil, func(s Service) error {
		if err := s.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
		return nil
	})
	return first
}
