package portal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arcflow/conductor/pkg/portal"
)

func TestWildcardAgentAllowsAny(t *testing.T) {
	reg := portal.NewRegistry(portal.Config{Alias: "repo", AllowedAgents: []string{"*"}})
	p := reg.Lookup("repo")
	require.True(t, p.CheckAgent("anyone").Allowed)
}

func TestCheckOperationRequiresAgentFirst(t *testing.T) {
	reg := portal.NewRegistry(portal.Config{Alias: "repo", AllowedAgents: []string{"reviewer"}, Mode: portal.SecurityModeHybrid})
	p := reg.Lookup("repo")

	d := p.CheckOperation("intruder", portal.OperationWrite)
	require.False(t, d.Allowed)
}

func TestSandboxedModeDeniesWrite(t *testing.T) {
	reg := portal.NewRegistry(portal.Config{Alias: "repo", AllowedAgents: []string{"*"}, Mode: portal.SecurityModeSandboxed})
	p := reg.Lookup("repo")

	d := p.CheckOperation("reviewer", portal.OperationWrite)
	require.False(t, d.Allowed)
}

func TestDefaultSecurityModeIsSandboxed(t *testing.T) {
	reg := portal.NewRegistry(portal.Config{Alias: "repo", AllowedAgents: []string{"*"}})
	p := reg.Lookup("repo")
	require.Equal(t, portal.SecurityModeSandboxed, p.SecurityModeOf())
}
