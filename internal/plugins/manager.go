// Package plugins exposes the tools of external MCP servers as agents.
// Every tool of a plugin named "calc" becomes an agent "calc.<tool>".
package plugins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/agentwave/internal/agent"
	"github.com/rendis/agentwave/internal/logging"
	"github.com/rendis/agentwave/pkg/schema"
)

const (
	// DefaultBaseConfidence is reported by tool agents unless the plugin
	// config sets its own.
	DefaultBaseConfidence = 0.8

	handshakeTimeout = 10 * time.Second
	maxHealthErrors  = 3
)

// Plugin status values reported by Status.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Config describes how to launch and identify a plugin subprocess.
type Config struct {
	Name           string   `json:"name"`
	Command        string   `json:"command"` // MCP server binary path
	Args           []string `json:"args,omitempty"`
	Env            []string `json:"env,omitempty"`
	BaseConfidence float64  `json:"base_confidence,omitempty"`
}

// Client is the subset of the mcp-go client the manager drives.
type Client interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// Manager manages the lifecycle of MCP plugins and their agents.
type Manager struct {
	registry *agent.Registry
	plugins  map[string]*managedPlugin
	mu       sync.RWMutex
	logger   *slog.Logger
}

type managedPlugin struct {
	config   Config
	client   Client
	agentIDs []string
	status   string
	errCount int
	lastErr  string
}

// NewManager creates a Manager that registers tool agents into reg.
func NewManager(reg *agent.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		registry: reg,
		plugins:  make(map[string]*managedPlugin),
		logger:   logger,
	}
}

// Launch starts the plugin subprocess over stdio and attaches it.
func (m *Manager) Launch(ctx context.Context, cfg Config) error {
	if cfg.Command == "" {
		return schema.NewErrorf(schema.ErrCodeConfiguration, "plugin %q has no command", cfg.Name)
	}
	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeAgentUnavailable, "start plugin %q: %s", cfg.Name, err.Error()).WithCause(err)
	}
	if err := m.Attach(ctx, cfg, c); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// Attach performs the MCP handshake on a started client and registers one
// agent per discovered tool. Either every tool agent is registered or none.
func (m *Manager) Attach(ctx context.Context, cfg Config, c Client) error {
	if cfg.Name == "" {
		return schema.NewError(schema.ErrCodeConfiguration, "plugin name is required")
	}
	if cfg.BaseConfidence == 0 {
		cfg.BaseConfidence = DefaultBaseConfidence
	}

	m.mu.Lock()
	if _, exists := m.plugins[cfg.Name]; exists {
		m.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict, "plugin %q already loaded", cfg.Name)
	}
	m.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentwave", Version: "1.0.0"}
	initRes, err := c.Initialize(hctx, initReq)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeAgentUnavailable, "handshake with plugin %q: %s", cfg.Name, err.Error()).WithCause(err)
	}

	tools, err := c.ListTools(hctx, mcp.ListToolsRequest{})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeAgentUnavailable, "list tools of plugin %q: %s", cfg.Name, err.Error()).WithCause(err)
	}

	mp := &managedPlugin{config: cfg, client: c, status: StatusHealthy}
	for _, tool := range tools.Tools {
		a := newToolAgent(cfg, initRes.ServerInfo.Version, tool, c)
		if err := m.registry.Register(a); err != nil {
			m.unregister(mp)
			return fmt.Errorf("register %s: %w", a.meta.ID, err)
		}
		mp.agentIDs = append(mp.agentIDs, a.meta.ID)
	}

	m.mu.Lock()
	m.plugins[cfg.Name] = mp
	m.mu.Unlock()

	m.logger.Info("plugin loaded",
		slog.String("plugin", cfg.Name),
		slog.String("server", initRes.ServerInfo.Name),
		slog.Int("agents", len(mp.agentIDs)),
	)
	return nil
}

func (m *Manager) unregister(mp *managedPlugin) {
	for _, id := range mp.agentIDs {
		m.registry.Unregister(id)
	}
	mp.agentIDs = nil
}

// Stop unregisters a plugin's agents and closes its client.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	mp, ok := m.plugins[name]
	if !ok {
		m.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeNotFound, "plugin %q not found", name)
	}
	delete(m.plugins, name)
	m.mu.Unlock()

	m.unregister(mp)
	err := mp.client.Close()
	m.logger.Info("plugin stopped", slog.String("plugin", name))
	return err
}

// StopAll stops every managed plugin.
func (m *Manager) StopAll() error {
	m.mu.RLock()
	names := make([]string, 0, len(m.plugins))
	for name := range m.plugins {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var errs []error
	for _, name := range names {
		if err := m.Stop(name); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// HealthCheck pings every plugin once. A plugin turns unhealthy after
// three consecutive failed pings and healthy again on the next success.
func (m *Manager) HealthCheck(ctx context.Context) {
	m.mu.RLock()
	targets := make([]*managedPlugin, 0, len(m.plugins))
	for _, mp := range m.plugins {
		targets = append(targets, mp)
	}
	m.mu.RUnlock()

	for _, mp := range targets {
		err := mp.client.Ping(ctx)

		m.mu.Lock()
		if err != nil {
			mp.errCount++
			mp.lastErr = err.Error()
			if mp.errCount >= maxHealthErrors && mp.status != StatusUnhealthy {
				mp.status = StatusUnhealthy
				m.logger.Warn("plugin unhealthy",
					slog.String("plugin", mp.config.Name),
					slog.Int("consecutive_errors", mp.errCount),
					slog.String("error", mp.lastErr),
				)
			}
		} else {
			mp.errCount = 0
			mp.lastErr = ""
			mp.status = StatusHealthy
		}
		m.mu.Unlock()
	}
}

// Watch runs HealthCheck every interval until ctx ends.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.HealthCheck(ctx)
		}
	}
}

// Status returns the current status of all managed plugins.
func (m *Manager) Status() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]string, len(m.plugins))
	for name, mp := range m.plugins {
		result[name] = mp.status
	}
	return result
}

// Agents returns the agent IDs registered for a plugin.
func (m *Manager) Agents(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mp, ok := m.plugins[name]
	if !ok {
		return nil
	}
	return append([]string(nil), mp.agentIDs...)
}
