package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	s := NewServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.notifier)
}

func TestToolRegistration(t *testing.T) {
	s := NewServer(ServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 7)

	expectedTools := []string{
		"agentwave.run",
		"agentwave.define",
		"agentwave.metrics",
		"agentwave.reset",
		"agentwave.threshold",
		"agentwave.agents",
		"agentwave.diagram",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		toolName    string
		description string
	}{
		{"agentwave.run", "Execute a plan, inline or from a stored template"},
		{"agentwave.define", "Store a plan as the next version of a template"},
		{"agentwave.metrics", "Read executor metrics"},
		{"agentwave.reset", "Reset executor metrics to zero"},
		{"agentwave.threshold", "List, set or remove confidence threshold overrides"},
		{"agentwave.agents", "List registered agents"},
	}

	s := NewServer(ServerDeps{})

	for _, tc := range tests {
		t.Run(tc.toolName, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
