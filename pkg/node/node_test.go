package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

type stubNode struct{}

func (stubNode) Setup(context.Context) error    { return nil }
func (stubNode) Step(context.Context) error     { return nil }
func (stubNode) Teardown(context.Context) error { return nil }

func TestRegistryBuildUsesRegisteredFactory(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", func(cfg types.NodeConfig) (UserNode, error) {
		return stubNode{}, nil
	})

	n, err := r.Build(types.NodeConfig{Kind: "stub", Name: "n1"})
	require.NoError(t, err)
	assert.IsType(t, stubNode{}, n)
}

func TestRegistryBuildErrorsForUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build(types.NodeConfig{Kind: "ghost"})
	assert.Error(t, err)
}

func TestRegistryRegisterPanicsOnDuplicateKind(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", func(cfg types.NodeConfig) (UserNode, error) { return stubNode{}, nil })

	assert.Panics(t, func() {
		r.Register("stub", func(cfg types.NodeConfig) (UserNode, error) { return stubNode{}, nil })
	})
}
