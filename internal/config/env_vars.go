package config

import (
	"os"
	"time"
)

const (
	appNameVar  = "APP_NAME"
	baseURLVar  = "AUTH_BASE_URL"
	stateDirVar = "STATE_DIR"
	timeoutVar  = "HTTP_TIMEOUT"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "go-auth-client")
}

// GetBaseURL returns the base URL of the auth server the client talks to.
func (EnvVars) GetBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:8080")
}

// GetStateDir returns the directory for the persistent session tier. Empty
// means "use the platform default" (the user config dir).
func (EnvVars) GetStateDir() string {
	return GetEnv(stateDirVar, "")
}

func (EnvVars) GetHTTPTimeout() time.Duration {
	raw := GetEnv(timeoutVar, "30s")
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
