package util

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/deemkeen/stegonet/domain"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const Name = "stegonet"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		NodeId         string `yaml:"nodeId"`
		Host           string
		HttpPort       int    `yaml:"httpPort"`
		PublicUrl      string `yaml:"publicUrl"`
		Database       string `yaml:"database"`
		MediaDir       string `yaml:"mediaDir"`
		LogLevel       string `yaml:"logLevel"`
		LogPretty      bool   `yaml:"logPretty"`
		RemoteTimeout  string `yaml:"remoteTimeout"`
		MaxRetries     int    `yaml:"maxRetries"`
		ResyncSchedule string `yaml:"resyncSchedule"`
		ResyncBatch    int    `yaml:"resyncBatch"`
	}
	// Nodes lists the federation, this node included.
	Nodes []domain.NodeConfig `yaml:"nodes"`
}

// ReadConf loads the config file found by ResolveFilePath, falling back to
// the embedded defaults (and writing them to the user config directory).
func ReadConf() (*AppConfig, error) {
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Info().Str("path", configPath).Msg("Config file not found, using embedded defaults")
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			if writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644); writeErr != nil {
				log.Warn().Err(writeErr).Str("path", userConfigPath).Msg("Could not write default config")
			} else {
				log.Info().Str("path", userConfigPath).Msg("Created default config file")
			}
		}
	}
	return parseConf(buf)
}

// ReadConfFrom loads the config file at path.
func ReadConfFrom(path string) (*AppConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseConf(buf)
}

func parseConf(buf []byte) (*AppConfig, error) {
	c := &AppConfig{}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if _, err := time.ParseDuration(c.Conf.RemoteTimeout); err != nil {
		return nil, fmt.Errorf("remoteTimeout: %w", err)
	}
	if c.Conf.NodeId == "" {
		return nil, fmt.Errorf("nodeId must be set")
	}
	return c, nil
}

func (c *AppConfig) applyEnv() error {
	setString := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setInt := func(env string, dst *int) error {
		v := os.Getenv(env)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", env, err)
		}
		*dst = n
		return nil
	}

	setString("STEGONET_NODE_ID", &c.Conf.NodeId)
	setString("STEGONET_HOST", &c.Conf.Host)
	setString("STEGONET_PUBLIC_URL", &c.Conf.PublicUrl)
	setString("STEGONET_DATABASE", &c.Conf.Database)
	setString("STEGONET_MEDIA_DIR", &c.Conf.MediaDir)
	setString("STEGONET_LOG_LEVEL", &c.Conf.LogLevel)
	setString("STEGONET_REMOTE_TIMEOUT", &c.Conf.RemoteTimeout)
	setString("STEGONET_RESYNC_SCHEDULE", &c.Conf.ResyncSchedule)

	if err := setInt("STEGONET_HTTPPORT", &c.Conf.HttpPort); err != nil {
		return err
	}
	if err := setInt("STEGONET_MAX_RETRIES", &c.Conf.MaxRetries); err != nil {
		return err
	}
	if os.Getenv("STEGONET_LOG_PRETTY") == "true" {
		c.Conf.LogPretty = true
	}
	return nil
}

func (c *AppConfig) applyDefaults() {
	if c.Conf.HttpPort == 0 {
		c.Conf.HttpPort = 9999
	}
	if c.Conf.Database == "" {
		c.Conf.Database = "stegonet.db"
	}
	if c.Conf.MediaDir == "" {
		c.Conf.MediaDir = "media"
	}
	if c.Conf.LogLevel == "" {
		c.Conf.LogLevel = "info"
	}
	if c.Conf.RemoteTimeout == "" {
		c.Conf.RemoteTimeout = "5s"
	}
	if c.Conf.ResyncSchedule == "" {
		c.Conf.ResyncSchedule = "@every 5m"
	}
	if c.Conf.ResyncBatch == 0 {
		c.Conf.ResyncBatch = 100
	}
	if c.Conf.PublicUrl == "" {
		c.Conf.PublicUrl = fmt.Sprintf("http://%s:%d", c.Conf.Host, c.Conf.HttpPort)
	}
}

// RemoteTimeout bounds every call to another node.
func (c *AppConfig) RemoteTimeout() time.Duration {
	d, err := time.ParseDuration(c.Conf.RemoteTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}
