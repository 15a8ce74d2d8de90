// Package config loads and validates the native process's configuration
// file (spec §6): listen address, IPC socket path, the route table, static
// file mounts, middleware toggles, and operational knobs.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	zap "github.com/zapjs/zap"
)

// PortPolicy selects what happens when the configured port is already in
// use (spec §9's "document the choice explicitly" instruction).
type PortPolicy string

const (
	// PortPolicyFail refuses to start if the port is taken.
	PortPolicyFail PortPolicy = "fail"
	// PortPolicyScan tries successive ports until one binds.
	PortPolicyScan PortPolicy = "scan"
)

// RouteKind discriminates how the dispatch engine serves a route beyond
// its method+pattern: ordinary request/response, or a WebSocket upgrade
// (spec §6: "WebSocket upgrade on paths whose route is of WebSocket
// kind").
type RouteKind string

const (
	// RouteKindHTTP is the default: an ordinary request/response route.
	RouteKindHTTP RouteKind = "http"
	// RouteKindWebSocket upgrades the connection and hands it to ws.Table
	// instead of invoking the handler for a single request/response.
	RouteKindWebSocket RouteKind = "websocket"
)

// Route is one entry in the compiled route table.
type Route struct {
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	HandlerID    string    `json:"handler_id"`
	IsTypeScript bool      `json:"is_typescript"`
	Kind         RouteKind `json:"kind,omitempty"`
}

// StaticFiles mounts a directory under a path prefix.
type StaticFiles struct {
	Prefix    string          `json:"prefix"`
	Directory string          `json:"directory"`
	Options   json.RawMessage `json:"options,omitempty"`
}

// Middleware toggles the fixed middleware chain applied before routing
// (spec §4.4: membership is fixed at startup, not per-request).
type Middleware struct {
	EnableCORS        bool `json:"enable_cors"`
	EnableLogging     bool `json:"enable_logging"`
	EnableCompression bool `json:"enable_compression"`
}

// Config is the full configuration file shape (spec §6).
type Config struct {
	Port            int           `json:"port"`
	Hostname        string        `json:"hostname"`
	IPCSocketPath   string        `json:"ipc_socket_path"`
	Routes          []Route       `json:"routes"`
	StaticFiles     []StaticFiles `json:"static_files"`
	Middleware      Middleware    `json:"middleware"`
	HealthCheckPath string        `json:"health_check_path,omitempty"`
	MetricsPath     string        `json:"metrics_path,omitempty"`

	MaxRequestBodySize int64 `json:"max_request_body_size,omitempty"`
	RequestTimeoutSecs int   `json:"request_timeout_secs,omitempty"`

	PortPolicy PortPolicy `json:"port_policy,omitempty"`

	// Protocol selects the outgoing IPC wire form: "binary" (the default,
	// msgpack) or "text" (JSON). Both peers always accept either form on
	// read (spec §4.1); this only fixes what this process writes. Kept as
	// a bare string rather than frame.Form to avoid this package needing
	// to import frame for a single enum it has no other use for.
	Protocol string `json:"protocol,omitempty"`
}

const (
	defaultMaxRequestBodySize = 10 << 20 // 10 MiB
	defaultRequestTimeoutSecs = 30
	defaultHealthCheckPath    = "/healthz"
)

// RequestTimeout returns RequestTimeoutSecs as a time.Duration, applying
// the default when unset.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSecs <= 0 {
		return defaultRequestTimeoutSecs * time.Second
	}
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &zap.ConfigError{Kind: zap.ConfigMissing, Err: err}
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, &zap.ConfigError{Kind: zap.ConfigMissing, Err: err}
	}

	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, &zap.ConfigError{Kind: zap.ConfigParse, Err: err}
	}

	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applyDefaults(c *Config) {
	if c.MaxRequestBodySize == 0 {
		c.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if c.RequestTimeoutSecs == 0 {
		c.RequestTimeoutSecs = defaultRequestTimeoutSecs
	}
	if c.HealthCheckPath == "" {
		c.HealthCheckPath = defaultHealthCheckPath
	}
	if c.PortPolicy == "" {
		c.PortPolicy = PortPolicyFail
	}
	for i := range c.Routes {
		if c.Routes[i].Kind == "" {
			c.Routes[i].Kind = RouteKindHTTP
		}
	}
}

// Validate checks the fields Load cannot fill in with a safe default.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return &zap.ConfigError{Kind: zap.ConfigValidate, Err: fmt.Errorf("port out of range: %d", c.Port)}
	}
	if c.IPCSocketPath == "" {
		return &zap.ConfigError{Kind: zap.ConfigValidate, Err: fmt.Errorf("ipc_socket_path is required")}
	}
	if c.PortPolicy != PortPolicyFail && c.PortPolicy != PortPolicyScan {
		return &zap.ConfigError{Kind: zap.ConfigValidate, Err: fmt.Errorf("unknown port_policy: %q", c.PortPolicy)}
	}
	seen := make(map[string]struct{}, len(c.Routes))
	for _, r := range c.Routes {
		if r.Method == "" || r.Path == "" || r.HandlerID == "" {
			return &zap.ConfigError{Kind: zap.ConfigValidate, Err: fmt.Errorf("route missing method/path/handler_id: %+v", r)}
		}
		if r.Kind != "" && r.Kind != RouteKindHTTP && r.Kind != RouteKindWebSocket {
			return &zap.ConfigError{Kind: zap.ConfigValidate, Err: fmt.Errorf("unknown route kind: %q", r.Kind)}
		}
		key := r.Method + " " + r.Path
		if _, dup := seen[key]; dup {
			return &zap.ConfigError{Kind: zap.ConfigValidate, Err: fmt.Errorf("duplicate route: %s", key)}
		}
		seen[key] = struct{}{}
	}
	return nil
}
