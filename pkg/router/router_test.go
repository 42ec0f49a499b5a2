package router_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcflow/conductor/pkg/errors"
	"github.com/arcflow/conductor/pkg/router"
)

func TestRouteConflictingSelectors(t *testing.T) {
	r := router.New("default-agent", nil, nil, nil)
	_, err := r.Route(router.Request{FlowID: "f1", AgentID: "a1"})
	require.Error(t, err)
	assert.Equal(t, errors.KindConflictingSelectors, errors.KindOf(err, ""))
}

func TestRouteFlowNotFound(t *testing.T) {
	r := router.New("default-agent", func(string) bool { return false }, nil, nil)
	_, err := r.Route(router.Request{FlowID: "missing"})
	require.Error(t, err)
	assert.Equal(t, errors.KindFlowNotFound, errors.KindOf(err, ""))
}

func TestRouteFlow(t *testing.T) {
	r := router.New("default-agent", func(string) bool { return true }, nil, nil)
	d, err := r.Route(router.Request{FlowID: "review-flow"})
	require.NoError(t, err)
	assert.Equal(t, router.KindFlow, d.Kind)
	assert.Equal(t, "review-flow", d.FlowID)
}

func TestRouteAgent(t *testing.T) {
	r := router.New("default-agent", nil, nil, nil)
	d, err := r.Route(router.Request{AgentID: "reviewer"})
	require.NoError(t, err)
	assert.Equal(t, router.KindAgent, d.Kind)
	assert.Equal(t, "reviewer", d.AgentID)
}

func TestRouteDefaultAgent(t *testing.T) {
	r := router.New("default-agent", nil, nil, nil)
	d, err := r.Route(router.Request{})
	require.NoError(t, err)
	assert.Equal(t, router.KindAgent, d.Kind)
	assert.Equal(t, "default-agent", d.AgentID)
}
