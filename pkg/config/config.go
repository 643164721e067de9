/*
Package config loads the key/value settings every fleetgraph process
reads, following the plain struct-with-defaults pattern the
Manager/Worker Config types use elsewhere in this module: a YAML file
provides the base values, environment variables override individual
keys, and callers always get a fully populated struct back, never a
partial one.
*/
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every recognized tuning knob shared by the Manager
// and Worker processes.
type Config struct {
	WorkerTimeoutPackageDelivery time.Duration `yaml:"worker_timeout_package_delivery"`
	WorkerTimeoutNodeCreation    time.Duration `yaml:"worker_timeout_node_creation"`
	ManagerTimeoutCommit         time.Duration `yaml:"manager_timeout_commit"`
	ManagerTimeoutLifecycle      time.Duration `yaml:"manager_timeout_lifecycle"`

	PubsubSendQueueDepth   int `yaml:"pubsub_send_queue_depth"`
	WSMaxBackpressureFrame int `yaml:"ws_max_backpressure_frames"`

	ReconnectBaseMS int `yaml:"reconnect_base_ms"`
	ReconnectCapMS  int `yaml:"reconnect_cap_ms"`
}

// Default returns the recognized keys from spec.md §6.5 with their
// documented default values.
func Default() *Config {
	return &Config{
		WorkerTimeoutPackageDelivery: 30 * time.Second,
		WorkerTimeoutNodeCreation:    10 * time.Second,
		ManagerTimeoutCommit:         60 * time.Second,
		ManagerTimeoutLifecycle:      10 * time.Second,
		PubsubSendQueueDepth:         100,
		WSMaxBackpressureFrame:       50,
		ReconnectBaseMS:              250,
		ReconnectCapMS:               30_000,
	}
}

// Load reads path as YAML over the defaults, then applies any
// FLEETGRAPH_* environment overrides. A missing path is not an
// error: the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := durationFromEnv("FLEETGRAPH_WORKER_TIMEOUT_PACKAGE_DELIVERY"); ok {
		cfg.WorkerTimeoutPackageDelivery = v
	}
	if v, ok := durationFromEnv("FLEETGRAPH_WORKER_TIMEOUT_NODE_CREATION"); ok {
		cfg.WorkerTimeoutNodeCreation = v
	}
	if v, ok := durationFromEnv("FLEETGRAPH_MANAGER_TIMEOUT_COMMIT"); ok {
		cfg.ManagerTimeoutCommit = v
	}
	if v, ok := durationFromEnv("FLEETGRAPH_MANAGER_TIMEOUT_LIFECYCLE"); ok {
		cfg.ManagerTimeoutLifecycle = v
	}
	if v, ok := intFromEnv("FLEETGRAPH_PUBSUB_SEND_QUEUE_DEPTH"); ok {
		cfg.PubsubSendQueueDepth = v
	}
	if v, ok := intFromEnv("FLEETGRAPH_WS_MAX_BACKPRESSURE_FRAMES"); ok {
		cfg.WSMaxBackpressureFrame = v
	}
	if v, ok := intFromEnv("FLEETGRAPH_RECONNECT_BASE_MS"); ok {
		cfg.ReconnectBaseMS = v
	}
	if v, ok := intFromEnv("FLEETGRAPH_RECONNECT_CAP_MS"); ok {
		cfg.ReconnectCapMS = v
	}
}

func durationFromEnv(key string) (time.Duration, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}

func intFromEnv(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
