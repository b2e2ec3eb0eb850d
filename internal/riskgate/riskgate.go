// Package riskgate holds the HIGH-risk parts of the three-tier risk
// gate: the spawn-time container rewrite and the execution_environment
// annotation of results. The MEDIUM-risk tools/call interception is
// done by package gateway.
package riskgate

import (
	"fmt"
	"sort"

	"mcpgateway/internal/mcpconfig"
)

// RewrittenCommand is the result of rewriting a HIGH-risk ServerConfig
// into a containerized invocation. OriginalCommand/OriginalArgs are
// retained on the ServerRecord for reporting.
type RewrittenCommand struct {
	Command         string
	Args            []string
	OriginalCommand string
	OriginalArgs    []string
}

// RewriteForContainer builds the "docker run --rm ..." argv for a
// HIGH-risk server, per the deterministic order in §4.4(a):
//
//  1. run, --rm
//  2. -e KEY=VALUE for each env entry (sorted by key for determinism,
//     since a JSON object's key order is not preserved through Go's
//     map decoding; this module defines insertion order as sorted-key
//     order rather than the unrecoverable original JSON order)
//  3. -v SPEC for each docker.volumes entry, in configured order
//  4. --network NAME if docker.network is set
//  5. the docker.image
//  6. the original command, unless it is "npm" or "npx"
//  7. all original args
//
// cfg.Docker must be non-nil with a non-empty Image; callers are
// expected to have validated this via mcpconfig.ValidateForAdmission
// or mcpconfig.NormalizeFromFile before reaching this point.
func RewriteForContainer(cfg mcpconfig.ServerConfig) RewrittenCommand {
	args := []string{"run", "--rm"}

	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, cfg.Env[k]))
	}

	for _, volume := range cfg.Docker.Volumes {
		args = append(args, "-v", volume)
	}

	if cfg.Docker.Network != "" {
		args = append(args, "--network", cfg.Docker.Network)
	}

	args = append(args, cfg.Docker.Image)

	if cfg.Command != "npm" && cfg.Command != "npx" {
		args = append(args, cfg.Command)
	}

	args = append(args, cfg.Args...)

	return RewrittenCommand{
		Command:         "docker",
		Args:            args,
		OriginalCommand: cfg.Command,
		OriginalArgs:    cfg.Args,
	}
}

// ApplySpawnRewrite returns the ServerConfig to actually spawn for cfg:
// unchanged for anything but RiskHigh, rewritten into a docker
// invocation otherwise. The returned RewrittenCommand is only
// meaningful when rewritten is true.
func ApplySpawnRewrite(cfg mcpconfig.ServerConfig) (spawnCfg mcpconfig.ServerConfig, rewritten bool, result RewrittenCommand) {
	if cfg.RiskLevel != mcpconfig.RiskHigh {
		return cfg, false, RewrittenCommand{}
	}

	rc := RewriteForContainer(cfg)
	spawn := cfg.Clone()
	spawn.Command = rc.Command
	spawn.Args = rc.Args
	return spawn, true, rc
}

// ExecutionEnvironment describes the container a HIGH-risk response is
// annotated with, per §4.4(b).
type ExecutionEnvironment struct {
	RiskLevel       string `json:"risk_level"`
	RiskDescription string `json:"risk_description"`
	Docker          bool   `json:"docker"`
	DockerImage     string `json:"docker_image"`
}

// WrapHighRiskResult merges an execution_environment object into a
// HIGH-risk dispatch's result.
func WrapHighRiskResult(result map[string]any, risk mcpconfig.RiskLevel, image string) map[string]any {
	if result == nil {
		result = map[string]any{}
	}
	result["execution_environment"] = ExecutionEnvironment{
		RiskLevel:       risk.String(),
		RiskDescription: risk.Description(),
		Docker:          true,
		DockerImage:     image,
	}
	return result
}
