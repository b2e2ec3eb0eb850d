package mcpconfig

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// FileConfig mirrors the on-disk shape: { "mcpServers": { "<id>": ServerConfig } }.
type FileConfig struct {
	McpServers map[string]ServerConfig `json:"mcpServers"`
}

// Load reads the gateway's server fleet from path, falling back to
// $MCP_CONFIG_PATH then ./mcp_config.json when path is empty. A missing
// file is not an error: it yields an empty fleet so environment
// overrides (see LoadEnvOverrides) can still populate it.
func Load(path string) (map[string]ServerConfig, []Warning, error) {
	resolved := resolvePath(path)

	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ServerConfig{}, nil, nil
		}
		return nil, nil, err
	}

	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, nil, err
	}

	servers := make(map[string]ServerConfig, len(fc.McpServers))
	var warnings []Warning
	for id, raw := range fc.McpServers {
		normalized, ws := NormalizeFromFile(id, raw)
		servers[id] = normalized
		warnings = append(warnings, ws...)
	}

	return servers, warnings, nil
}

func resolvePath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("MCP_CONFIG_PATH"); env != "" {
		return env
	}
	return "./mcp_config.json"
}

// LoadEnvOverrides scans the process environment for
// MCP_SERVER_<NAME>_COMMAND variables and produces a server definition
// per §6 for each one found. Sibling MCP_SERVER_<NAME>_ARGS,
// MCP_SERVER_<NAME>_ENV, MCP_SERVER_<NAME>_RISK_LEVEL, and
// MCP_SERVER_<NAME>_DOCKER_CONFIG variables are consulted when present.
// A server named by an override replaces any same-named entry loaded
// from file.
func LoadEnvOverrides(environ []string) (map[string]ServerConfig, []Warning) {
	const prefix = "MCP_SERVER_"
	const suffix = "_COMMAND"

	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			env[kv[:idx]] = kv[idx+1:]
		}
	}

	servers := map[string]ServerConfig{}
	var warnings []Warning

	for key, value := range env {
		if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix)
		if name == "" {
			continue
		}
		serverID := strings.ToLower(name)

		cfg := ServerConfig{Command: value}

		if argsRaw, ok := env[prefix+name+"_ARGS"]; ok && argsRaw != "" {
			parts := strings.Split(argsRaw, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			cfg.Args = parts
		}

		if envRaw, ok := env[prefix+name+"_ENV"]; ok && envRaw != "" {
			var parsed map[string]string
			if err := json.Unmarshal([]byte(envRaw), &parsed); err != nil {
				warnings = append(warnings, Warning{ServerID: serverID, Message: "invalid _ENV json, ignoring: " + err.Error()})
			} else {
				cfg.Env = parsed
			}
		}

		riskSet := false
		if riskRaw, ok := env[prefix+name+"_RISK_LEVEL"]; ok && riskRaw != "" {
			level, err := strconv.Atoi(riskRaw)
			if err != nil || !RiskLevel(level).Valid() || RiskLevel(level) == RiskUnset {
				warnings = append(warnings, Warning{ServerID: serverID, Message: "invalid _RISK_LEVEL, ignoring: " + riskRaw})
			} else {
				cfg.RiskLevel = RiskLevel(level)
				riskSet = true
			}
		}

		if dockerRaw, ok := env[prefix+name+"_DOCKER_CONFIG"]; ok && dockerRaw != "" {
			var docker DockerConfig
			if err := json.Unmarshal([]byte(dockerRaw), &docker); err != nil {
				warnings = append(warnings, Warning{ServerID: serverID, Message: "invalid _DOCKER_CONFIG json, ignoring: " + err.Error()})
			} else {
				cfg.Docker = &docker
			}
		}

		if riskSet && cfg.RiskLevel == RiskHigh && (cfg.Docker == nil || cfg.Docker.Image == "") {
			warnings = append(warnings, Warning{ServerID: serverID, Message: "riskLevel high requires _DOCKER_CONFIG, demoting to medium"})
			cfg.RiskLevel = RiskMedium
		}

		servers[serverID] = cfg
	}

	return servers, warnings
}

// Merge layers override on top of base, with override winning on
// conflicting server ids.
func Merge(base, override map[string]ServerConfig) map[string]ServerConfig {
	merged := make(map[string]ServerConfig, len(base)+len(override))
	for id, cfg := range base {
		merged[id] = cfg
	}
	for id, cfg := range override {
		merged[id] = cfg
	}
	return merged
}
