package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	return path
}

func TestConfigConstants(t *testing.T) {
	if Name != "stegonet" {
		t.Errorf("Expected Name 'stegonet', got '%s'", Name)
	}
	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestReadConfFromYaml(t *testing.T) {
	path := writeTestConfig(t, `
conf:
  nodeId: node2
  host: 10.0.0.2
  httpPort: 9998
  remoteTimeout: 2s
  maxRetries: 1
nodes:
  - id: node1
    url: http://10.0.0.1:9999
    apiKey: secret-1
  - id: node2
    url: http://10.0.0.2:9998
`)

	config, err := ReadConfFrom(path)
	if err != nil {
		t.Fatalf("ReadConfFrom failed: %v", err)
	}

	if config.Conf.NodeId != "node2" {
		t.Errorf("Expected NodeId 'node2', got '%s'", config.Conf.NodeId)
	}
	if config.Conf.HttpPort != 9998 {
		t.Errorf("Expected HttpPort 9998, got %d", config.Conf.HttpPort)
	}
	if config.RemoteTimeout() != 2*time.Second {
		t.Errorf("Expected RemoteTimeout 2s, got %s", config.RemoteTimeout())
	}
	if config.Conf.MaxRetries != 1 {
		t.Errorf("Expected MaxRetries 1, got %d", config.Conf.MaxRetries)
	}
	if len(config.Nodes) != 2 {
		t.Fatalf("Expected 2 nodes, got %d", len(config.Nodes))
	}
	if config.Nodes[0].ID != "node1" || config.Nodes[0].APIKey != "secret-1" {
		t.Errorf("Unexpected first node: %+v", config.Nodes[0])
	}
}

func TestReadConfDefaults(t *testing.T) {
	path := writeTestConfig(t, `
conf:
  nodeId: node1
  host: 127.0.0.1
`)

	config, err := ReadConfFrom(path)
	if err != nil {
		t.Fatalf("ReadConfFrom failed: %v", err)
	}

	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected default HttpPort 9999, got %d", config.Conf.HttpPort)
	}
	if config.Conf.Database != "stegonet.db" {
		t.Errorf("Expected default Database 'stegonet.db', got '%s'", config.Conf.Database)
	}
	if config.Conf.MediaDir != "media" {
		t.Errorf("Expected default MediaDir 'media', got '%s'", config.Conf.MediaDir)
	}
	if config.Conf.ResyncSchedule != "@every 5m" {
		t.Errorf("Expected default ResyncSchedule, got '%s'", config.Conf.ResyncSchedule)
	}
	if config.Conf.ResyncBatch != 100 {
		t.Errorf("Expected default ResyncBatch 100, got %d", config.Conf.ResyncBatch)
	}
	if config.Conf.PublicUrl != "http://127.0.0.1:9999" {
		t.Errorf("Expected derived PublicUrl, got '%s'", config.Conf.PublicUrl)
	}
	if config.RemoteTimeout() != 5*time.Second {
		t.Errorf("Expected default RemoteTimeout 5s, got %s", config.RemoteTimeout())
	}
}

func TestReadConfWithEnvOverrides(t *testing.T) {
	path := writeTestConfig(t, `
conf:
  nodeId: node1
  host: 127.0.0.1
  httpPort: 9999
`)

	t.Setenv("STEGONET_NODE_ID", "node3")
	t.Setenv("STEGONET_HOST", "192.168.1.1")
	t.Setenv("STEGONET_HTTPPORT", "8080")
	t.Setenv("STEGONET_REMOTE_TIMEOUT", "750ms")
	t.Setenv("STEGONET_LOG_PRETTY", "true")

	config, err := ReadConfFrom(path)
	if err != nil {
		t.Fatalf("ReadConfFrom failed: %v", err)
	}

	if config.Conf.NodeId != "node3" {
		t.Errorf("Expected NodeId 'node3' from env, got '%s'", config.Conf.NodeId)
	}
	if config.Conf.Host != "192.168.1.1" {
		t.Errorf("Expected Host '192.168.1.1' from env, got '%s'", config.Conf.Host)
	}
	if config.Conf.HttpPort != 8080 {
		t.Errorf("Expected HttpPort 8080 from env, got %d", config.Conf.HttpPort)
	}
	if config.RemoteTimeout() != 750*time.Millisecond {
		t.Errorf("Expected RemoteTimeout 750ms from env, got %s", config.RemoteTimeout())
	}
	if !config.Conf.LogPretty {
		t.Error("Expected LogPretty to be true from env")
	}
}

func TestReadConfInvalidPortEnv(t *testing.T) {
	path := writeTestConfig(t, "conf:\n  nodeId: node1\n")
	t.Setenv("STEGONET_HTTPPORT", "not_a_number")

	if _, err := ReadConfFrom(path); err == nil {
		t.Error("Expected error for a non-numeric port override")
	}
}

func TestReadConfInvalidTimeout(t *testing.T) {
	path := writeTestConfig(t, "conf:\n  nodeId: node1\n  remoteTimeout: soon\n")

	if _, err := ReadConfFrom(path); err == nil {
		t.Error("Expected error for an unparsable remoteTimeout")
	}
}

func TestReadConfMissingNodeId(t *testing.T) {
	path := writeTestConfig(t, "conf:\n  host: 127.0.0.1\n")

	if _, err := ReadConfFrom(path); err == nil {
		t.Error("Expected error when nodeId is missing")
	}
}

func TestReadConfInvalidYaml(t *testing.T) {
	path := writeTestConfig(t, `
conf:
  nodeId: node1
  httpPort: not_a_number
  invalid yaml structure
`)

	if _, err := ReadConfFrom(path); err == nil {
		t.Error("Expected error when parsing invalid YAML")
	}
}

func TestReadConfFromMissingFile(t *testing.T) {
	if _, err := ReadConfFrom(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error when config file is missing")
	}
}

func TestEmbeddedConfigParses(t *testing.T) {
	config, err := parseConf(embeddedConfig)
	if err != nil {
		t.Fatalf("Embedded config does not parse: %v", err)
	}
	if config.Conf.NodeId != "node1" {
		t.Errorf("Expected embedded NodeId 'node1', got '%s'", config.Conf.NodeId)
	}
	if len(config.Nodes) != 1 {
		t.Errorf("Expected one node in the embedded config, got %d", len(config.Nodes))
	}
}
