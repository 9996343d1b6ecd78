package config

import "time"

// Config holds runtime settings for the StudioSync agent.
type Config struct {
	ServerEndpointAddr  string
	DatabaseDSN         string
	OnlineCheckInterval time.Duration
	DispatchInterval    time.Duration
	RequestTimeout      time.Duration
	MaxRetries          int
	MirrorEndpoint      string
	MirrorRegion        string
	MirrorBucket        string
	MirrorAccessKey     string
	MirrorSecretKey     string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "http://127.0.0.1:8080"
	c.DatabaseDSN = "studiosync.db"
	c.OnlineCheckInterval = 30 * time.Second
	c.DispatchInterval = 10 * time.Second
	c.RequestTimeout = 15 * time.Second
	c.MaxRetries = 5
	c.MirrorRegion = "us-east-1"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
