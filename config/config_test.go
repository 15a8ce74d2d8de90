package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	zap "github.com/zapjs/zap"
)

func writeConfig(t *testing.T, dir string, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, "zap.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, map[string]any{
		"port":            8080,
		"ipc_socket_path": "/tmp/zap.sock",
	})

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.MaxRequestBodySize != defaultMaxRequestBodySize {
		t.Fatalf("MaxRequestBodySize = %d", c.MaxRequestBodySize)
	}
	if c.HealthCheckPath != defaultHealthCheckPath {
		t.Fatalf("HealthCheckPath = %q", c.HealthCheckPath)
	}
	if c.PortPolicy != PortPolicyFail {
		t.Fatalf("PortPolicy = %q", c.PortPolicy)
	}
	if c.RequestTimeout().Seconds() != defaultRequestTimeoutSecs {
		t.Fatalf("RequestTimeout = %v", c.RequestTimeout())
	}
}

func TestLoad_MissingFileIsConfigMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	var ce *zap.ConfigError
	if !asConfigError(err, &ce) || ce.Kind != zap.ConfigMissing {
		t.Fatalf("got %v", err)
	}
}

func TestLoad_InvalidJSONIsConfigParse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := Load(path)
	var ce *zap.ConfigError
	if !asConfigError(err, &ce) || ce.Kind != zap.ConfigParse {
		t.Fatalf("got %v", err)
	}
}

func TestValidate_RejectsDuplicateRoutes(t *testing.T) {
	c := &Config{
		Port: 8080, IPCSocketPath: "/tmp/zap.sock", PortPolicy: PortPolicyFail,
		Routes: []Route{
			{Method: "GET", Path: "/a", HandlerID: "h1"},
			{Method: "GET", Path: "/a", HandlerID: "h2"},
		},
	}
	var ce *zap.ConfigError
	if !asConfigError(c.Validate(), &ce) || ce.Kind != zap.ConfigValidate {
		t.Fatalf("got %v", c.Validate())
	}
}

func TestValidate_RejectsBadPort(t *testing.T) {
	c := &Config{Port: 70000, IPCSocketPath: "/tmp/zap.sock", PortPolicy: PortPolicyFail}
	var ce *zap.ConfigError
	if !asConfigError(c.Validate(), &ce) {
		t.Fatalf("expected ConfigError, got %v", c.Validate())
	}
}

func asConfigError(err error, target **zap.ConfigError) bool {
	ce, ok := err.(*zap.ConfigError)
	if !ok {
		return false
	}
	*target = ce
	return true
}
