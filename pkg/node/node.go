/*
Package node implements the Node runtime: the setup/step/teardown
lifecycle every user-defined pipeline vertex runs through, its
Publisher/Subscriber data-plane bundle, its record queue, and the
control channel it uses to report status back to its owning Worker.

A Node never crosses the wire as code. Instead user code registers a
Factory under a Kind string in the process-global Registry; the
Worker ships a types.NodeConfig{Kind, Params} and the receiving
process looks the Kind up locally to build the instance.
*/
package node

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// UserNode is the contract a pipeline vertex implements. Params
// arrives as the raw JSON from its NodeConfig; a Factory typically
// unmarshals it into the UserNode's own config struct during
// construction rather than in Setup.
type UserNode interface {
	// Setup runs once after CONNECTED, before the Node reaches
	// READY.
	Setup(ctx context.Context) error
	// Step runs repeatedly while the Node is PREVIEWING or
	// RECORDING. Step should be cheap and non-blocking relative to
	// the pipeline's desired rate; long-running work belongs in a
	// goroutine the UserNode manages itself.
	Step(ctx context.Context) error
	// Teardown runs once during STOPPED -> SAVED, after the last
	// Step.
	Teardown(ctx context.Context) error
}

// MethodHandler is implemented by a UserNode that wants to expose
// registered methods to Manager-driven invocation.
type MethodHandler interface {
	// RegisteredMethods returns the methods this Node exposes.
	RegisteredMethods() map[string]types.RegisteredMethod
	// HandleMethod invokes the named method with params and returns
	// its result, or an error if the method is unknown or fails.
	HandleMethod(ctx context.Context, name string, params json.RawMessage) (any, error)
}

// Factory builds a UserNode instance from its NodeConfig. Factories
// are registered under a Kind string in a Registry, never shipped as
// code.
type Factory func(cfg types.NodeConfig) (UserNode, error)

// Registry maps a Kind string to the Factory that builds it. A
// single process-global Registry is populated by init() functions in
// packages that define Node kinds; Worker processes import those
// packages for their side effect of registering.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds kind to factory. Registering the same kind twice
// panics, since it almost always indicates two packages picked the
// same name by mistake.
func (r *Registry) Register(kind string, factory Factory) {
	if _, exists := r.factories[kind]; exists {
		panic(fmt.Sprintf("node: kind %q already registered", kind))
	}
	r.factories[kind] = factory
}

// Build looks up cfg.Kind and constructs the UserNode it describes.
func (r *Registry) Build(cfg types.NodeConfig) (UserNode, error) {
	factory, ok := r.factories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("node: no factory registered for kind %q", cfg.Kind)
	}
	return factory(cfg)
}

// Default is the process-global Registry used by the Worker's
// NodeHandler unless a test substitutes its own.
var Default = NewRegistry()
