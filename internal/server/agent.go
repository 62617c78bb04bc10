package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/cim-broker/internal/config"
	"github.com/morezero/cim-broker/pkg/agent"
	"github.com/morezero/cim-broker/pkg/bootstrap"
	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/commsutil"
	"github.com/morezero/cim-broker/pkg/message"
	"github.com/morezero/cim-broker/pkg/provider"
	"github.com/morezero/cim-broker/pkg/router"
)

const agentLogPrefix = "server:agent"

// groupCatalog registers in-memory providers for the modules served by group
// and returns the user context those modules run under.
func groupCatalog(rb *bootstrap.ResolvedBootstrap, group string) (*provider.Catalog, uint16, error) {
	cat := provider.NewCatalog()
	members := make(map[string]bool)
	var userContext uint16
	for _, pm := range rb.Modules() {
		if router.GroupOf(pm) != group {
			continue
		}
		members[pm.Name] = true
		if userContext == 0 {
			userContext = pm.EffectiveUserContext()
		}
	}
	if len(members) == 0 {
		return nil, 0, fmt.Errorf("%s - no provider module belongs to group %s", agentLogPrefix, group)
	}
	for _, p := range rb.Providers() {
		if !members[p.ProviderModuleName] {
			continue
		}
		if err := cat.Register(p.ProviderModuleName, p.Name, provider.NewMemory()); err != nil {
			return nil, 0, fmt.Errorf("%s - register provider %s/%s: %w", agentLogPrefix, p.ProviderModuleName, p.Name, err)
		}
	}
	return cat, userContext, nil
}

// RunAgent runs a provider agent for AGENT_GROUP until a shutdown signal.
func RunAgent() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", agentLogPrefix, err)
	}
	if err := cfg.ValidateForAgent(); err != nil {
		return fmt.Errorf("%s - invalid config: %w", agentLogPrefix, err)
	}
	setupLogging(cfg.LogLevel)

	slog.Info(fmt.Sprintf("%s - Starting provider agent for group %s", agentLogPrefix, cfg.AgentGroup))

	bootstrapCfg, err := bootstrap.LoadBootstrapConfig(cfg.BootstrapFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load bootstrap config: %w", agentLogPrefix, err)
	}
	resolved, err := bootstrap.CreateResolvedBootstrap(bootstrapCfg)
	if err != nil {
		return fmt.Errorf("%s - failed to resolve bootstrap config: %w", agentLogPrefix, err)
	}
	cat, userContext, err := groupCatalog(resolved, cfg.AgentGroup)
	if err != nil {
		return err
	}

	nc, err := commsutil.Connect(cfg.COMMSURL, fmt.Sprintf("%s-agent-%s", cfg.COMMSName, cfg.AgentGroup))
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", agentLogPrefix, err)
	}

	a, err := agent.New(agent.Params{
		Conn:              nc,
		Group:             cfg.AgentGroup,
		UserName:          cfg.AgentUser,
		UserContext:       userContext,
		Catalog:           cat,
		Workers:           cfg.WorkerPoolSize,
		Queue:             cfg.WorkerQueueSize,
		ChunkSize:         cfg.ResponseChunkSize,
		HeartbeatInterval: cfg.AgentHeartbeatInterval,
		Codec: message.Codec{
			PerfInstrumentation:  cfg.PerfInstrumentation,
			CompressionThreshold: cfg.ResponseCompressionThreshold,
		},
	})
	if err != nil {
		nc.Close()
		return err
	}
	if err := a.Start(); err != nil {
		nc.Close()
		return err
	}
	if userContext == cim.UserContextRequestor && cfg.AgentUser == "" {
		slog.Warn(fmt.Sprintf("%s - group %s runs as requestor but AGENT_USER is empty", agentLogPrefix, cfg.AgentGroup))
	}

	sig := waitForSignal()
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", agentLogPrefix, sig))

	a.Stop(context.Background())
	nc.Drain()
	slog.Info(fmt.Sprintf("%s - Shutdown complete", agentLogPrefix))
	return nil
}
