package gateway

import (
	"context"
	"sync"
)

// Shutdown takes a snapshot of every registered server-id and stops
// them concurrently, waiting for all to exit. A failure stopping one
// backend is logged and does not block the others.
func (g *Gateway) Shutdown(ctx context.Context) {
	ids := g.registry.IDs()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(serverID string) {
			defer wg.Done()
			if err := g.StopServer(ctx, serverID); err != nil {
				g.logger.Error(ctx, "mcp_shutdown_server_failed", map[string]any{"server_id": serverID, "error": err.Error()})
			}
		}(id)
	}
	wg.Wait()

	g.logger.Info(ctx, "mcp_shutdown_complete", map[string]any{"server_count": len(ids)})
}
