// Package paths resolves filesystem locations used by the gateway.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

const EnvGatewayLogDir = "MODELGATEWAY_LOG_DIR"

func GatewayLogsBaseDir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvGatewayLogDir)); dir != "" {
		return filepath.Clean(expandHomePath(dir))
	}
	return filepath.Join(".modelgateway", "logs")
}

func expandHomePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return path
}

func GatewayLogsBaseDirForWorkdir(workdir string) string {
	base := GatewayLogsBaseDir()
	if filepath.IsAbs(base) || strings.TrimSpace(workdir) == "" {
		return base
	}
	return filepath.Join(workdir, base)
}

func GatewayLogsDir(identifier string) string {
	base := GatewayLogsBaseDir()
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return base
	}
	return filepath.Join(base, identifier)
}
