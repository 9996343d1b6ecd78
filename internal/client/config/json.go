package config

import (
	"encoding/json"
	"os"

	"github.com/villaprodiq/studiosync/internal/flagx"
	"github.com/villaprodiq/studiosync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "30s"
// or as integer nanoseconds. After parsing, set values are copied into the
// runtime Config.
type JsonConfig struct {
	ServerEndpointAddr  string         `json:"server_endpoint_addr"`
	DatabaseDSN         string         `json:"database_dsn"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	DispatchInterval    timex.Duration `json:"dispatch_interval"`
	RequestTimeout      timex.Duration `json:"request_timeout"`
	MaxRetries          int            `json:"max_retries"`
	MirrorEndpoint      string         `json:"mirror_endpoint"`
	MirrorRegion        string         `json:"mirror_region"`
	MirrorBucket        string         `json:"mirror_bucket"`
	MirrorAccessKey     string         `json:"mirror_access_key"`
	MirrorSecretKey     string         `json:"mirror_secret_key"`
}

// parseJson overlays Config with values loaded from a JSON file. The file
// path comes from the -c/-config flags; when neither is set the function
// returns without touching cfg. Zero values in the JSON leave the
// corresponding Config field alone, so a partial file only overrides what it
// names.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerEndpointAddr != "" {
		cfg.ServerEndpointAddr = jc.ServerEndpointAddr
	}
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	if jc.DispatchInterval.Duration > 0 {
		cfg.DispatchInterval = jc.DispatchInterval.Duration
	}
	if jc.RequestTimeout.Duration > 0 {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.MaxRetries > 0 {
		cfg.MaxRetries = jc.MaxRetries
	}
	if jc.MirrorEndpoint != "" {
		cfg.MirrorEndpoint = jc.MirrorEndpoint
	}
	if jc.MirrorRegion != "" {
		cfg.MirrorRegion = jc.MirrorRegion
	}
	if jc.MirrorBucket != "" {
		cfg.MirrorBucket = jc.MirrorBucket
	}
	if jc.MirrorAccessKey != "" {
		cfg.MirrorAccessKey = jc.MirrorAccessKey
	}
	if jc.MirrorSecretKey != "" {
		cfg.MirrorSecretKey = jc.MirrorSecretKey
	}
}
