package riskgate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mcpgateway/internal/mcpconfig"
)

func TestRewriteForContainerDeterministicOrder(t *testing.T) {
	cfg := mcpconfig.ServerConfig{
		Command:   "npx",
		Args:      []string{"-y", "@mcp/fs"},
		Env:       map[string]string{"B": "2", "A": "1"},
		RiskLevel: mcpconfig.RiskHigh,
		Docker: &mcpconfig.DockerConfig{
			Image:   "img:1",
			Volumes: []string{"/host:/container"},
			Network: "isolated",
		},
	}

	rc := RewriteForContainer(cfg)

	want := []string{
		"run", "--rm",
		"-e", "A=1",
		"-e", "B=2",
		"-v", "/host:/container",
		"--network", "isolated",
		"img:1",
		"-y", "@mcp/fs",
	}

	require.Equal(t, "docker", rc.Command)
	require.Equal(t, want, rc.Args)
}

func TestRewriteForContainerOmitsNpmAndNpxAsInContainerCommand(t *testing.T) {
	for _, cmd := range []string{"npm", "npx"} {
		cfg := mcpconfig.ServerConfig{
			Command:   cmd,
			Args:      []string{"-y", "pkg"},
			RiskLevel: mcpconfig.RiskHigh,
			Docker:    &mcpconfig.DockerConfig{Image: "img:1"},
		}
		rc := RewriteForContainer(cfg)
		require.NotContains(t, rc.Args, cmd)
	}
}

func TestRewriteForContainerKeepsNonNpmCommand(t *testing.T) {
	cfg := mcpconfig.ServerConfig{
		Command:   "python3",
		Args:      []string{"server.py"},
		RiskLevel: mcpconfig.RiskHigh,
		Docker:    &mcpconfig.DockerConfig{Image: "img:1"},
	}
	rc := RewriteForContainer(cfg)

	require.Contains(t, rc.Args, "python3")
}

func TestApplySpawnRewriteOnlyAffectsHigh(t *testing.T) {
	low := mcpconfig.ServerConfig{Command: "npx", RiskLevel: mcpconfig.RiskLow}
	spawnCfg, rewritten, _ := ApplySpawnRewrite(low)
	require.False(t, rewritten)
	require.Equal(t, "npx", spawnCfg.Command)

	high := mcpconfig.ServerConfig{Command: "npx", RiskLevel: mcpconfig.RiskHigh, Docker: &mcpconfig.DockerConfig{Image: "img:1"}}
	spawnCfg, rewritten, rc := ApplySpawnRewrite(high)
	require.True(t, rewritten)
	require.Equal(t, "docker", spawnCfg.Command)
	require.Equal(t, "npx", rc.OriginalCommand)
}

func TestWrapHighRiskResultMergesExecutionEnvironment(t *testing.T) {
	wrapped := WrapHighRiskResult(map[string]any{"ok": true}, mcpconfig.RiskHigh, "img:1")

	env, ok := wrapped["execution_environment"].(ExecutionEnvironment)
	require.True(t, ok)
	require.True(t, env.Docker)
	require.Equal(t, "img:1", env.DockerImage)
	require.Equal(t, true, wrapped["ok"])
}

func TestWrapHighRiskResultHandlesNilResult(t *testing.T) {
	wrapped := WrapHighRiskResult(nil, mcpconfig.RiskHigh, "img:1")
	require.NotNil(t, wrapped["execution_environment"])
}
