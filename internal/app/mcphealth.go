package app

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gt-edge-ai/capfabric/pkg/mcpserver"
	"github.com/gt-edge-ai/capfabric/pkg/tenantpath"
)

// runMCPHealthChecker starts one mcpserver.Dispatcher.RunHealthChecker
// goroutine per tenant directory found under dataRoot, and periodically
// rescans dataRoot for tenants provisioned after startup. The fabric holds
// no static tenant list (spec §9's "Global singletons" redesign note), so
// discovery reads the filesystem directly rather than a registry.
func runMCPHealthChecker(ctx context.Context, mcp *mcpserver.Dispatcher, dataRoot string, interval time.Duration, logger *slog.Logger) {
	started := make(map[string]bool)

	scan := func() {
		entries, err := os.ReadDir(dataRoot)
		if err != nil {
			return
		}
		for _, e := range entries {
			if !e.IsDir() || started[e.Name()] {
				continue
			}
			root, err := tenantpath.RootFor(dataRoot, e.Name())
			if err != nil {
				continue
			}
			started[e.Name()] = true
			go mcp.RunHealthChecker(ctx, root, interval)
			logger.Info("mcp health checker started", "tenant", e.Name())
		}
	}

	scan()
	rescan := time.NewTicker(5 * time.Minute)
	defer rescan.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rescan.C:
			scan()
		}
	}
}
