// Copyright 2026 The ffl-livescore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import "github.com/spf13/viper"

// ===============================================================================
// Upstream Polling Related Config

// RateLimitTierConfig defines the token bucket parameters for one provider tier
type RateLimitTierConfig struct {
	// BucketCapacity is the max number of tokens held by the bucket
	BucketCapacity int `mapstructure:"bucket_capacity" json:"bucket_capacity" validate:"required,gte=1"`
	// RefillTokens is the number of tokens restored per refill period
	RefillTokens int `mapstructure:"refill_tokens" json:"refill_tokens" validate:"required,gte=1"`
	// RefillPeriod is the refill period in seconds
	RefillPeriod int `mapstructure:"refill_period_sec" json:"refill_period_sec" validate:"required,gte=1"`
}

// RateLimitConfig defines outbound rate limiting toward the stats provider
type RateLimitConfig struct {
	// Tier selects which tier parameters to apply
	Tier string `mapstructure:"tier" json:"tier" validate:"required,oneof=free starter paid"`
	// Tiers are the per-tier bucket parameters
	Tiers map[string]RateLimitTierConfig `mapstructure:"tiers" json:"tiers" validate:"required,dive"`
	// AlertThresholdPercent triggers a low-token warning once the bucket drops
	// below this percentage of capacity
	AlertThresholdPercent int `mapstructure:"alert_threshold_percent" json:"alert_threshold_percent" validate:"gte=0,lte=100"`
}

// BackoffConfig defines the exponential backoff behavior on provider throttling
type BackoffConfig struct {
	// InitialMS is the starting backoff duration in milliseconds
	InitialMS int `mapstructure:"initial_ms" json:"initial_ms" validate:"required,gte=1"`
	// MaxMS is the backoff duration ceiling in milliseconds
	MaxMS int `mapstructure:"max_ms" json:"max_ms" validate:"required,gte=1"`
	// Multiplier is the geometric growth factor applied per violation
	Multiplier float64 `mapstructure:"multiplier" json:"multiplier" validate:"required,gt=1"`
	// PermanentReductionThreshold is the consecutive violation count which
	// triggers a permanent bucket capacity reduction
	PermanentReductionThreshold int `mapstructure:"permanent_reduction_threshold" json:"permanent_reduction_threshold" validate:"required,gte=1"`
	// PermanentReductionPercent is the percentage of current capacity retained
	// after a permanent reduction fires
	PermanentReductionPercent int `mapstructure:"permanent_reduction_percent" json:"permanent_reduction_percent" validate:"required,gte=1,lte=100"`
	// CapacityRestoreAfter is the length in seconds of clean operation after
	// which the original bucket capacity is restored. Zero disables restoration.
	CapacityRestoreAfter int `mapstructure:"capacity_restore_after_sec" json:"capacity_restore_after_sec" validate:"gte=0"`
}

// CacheConfig defines the staleness tiers for cached provider data
type CacheConfig struct {
	// FreshTTL is the age in seconds under which cached data is fresh
	FreshTTL int `mapstructure:"fresh_ttl_sec" json:"fresh_ttl_sec" validate:"required,gte=1"`
	// StaleTTL is the age in seconds under which cached data is stale but usable
	StaleTTL int `mapstructure:"stale_ttl_sec" json:"stale_ttl_sec" validate:"required,gte=1"`
}

// StatsAPIConfig defines the upstream stats provider endpoint
type StatsAPIConfig struct {
	// BaseURI is the provider API root
	BaseURI string `mapstructure:"base_uri" json:"base_uri" validate:"required,uri"`
}

// PollingConfig defines the poll orchestrator parameters
type PollingConfig struct {
	// Enabled controls whether the poll loop runs
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Source is the upstream stats provider endpoint
	Source StatsAPIConfig `mapstructure:"source" json:"source" validate:"required,dive"`
	// Groups are the group (league) IDs scored each cycle
	Groups []string `mapstructure:"groups" json:"groups"`
	// Interval is the poll cadence in seconds
	Interval int `mapstructure:"interval_sec" json:"interval_sec" validate:"required,gte=1"`
	// FetchTimeout bounds a single call to the stats provider in seconds
	FetchTimeout int `mapstructure:"fetch_timeout_sec" json:"fetch_timeout_sec" validate:"required,gte=1"`
	// BackpressureThresholdMS is the poll cycle duration in milliseconds above
	// which a backpressure warning is emitted
	BackpressureThresholdMS int `mapstructure:"backpressure_threshold_ms" json:"backpressure_threshold_ms" validate:"required,gte=1"`
	// Season is the season the poller fetches stats for
	Season int `mapstructure:"season" json:"season" validate:"required,gte=2000"`
	// RateLimit are the outbound rate limit parameters
	RateLimit RateLimitConfig `mapstructure:"rate_limit" json:"rate_limit" validate:"required,dive"`
	// Backoff are the throttle backoff parameters
	Backoff BackoffConfig `mapstructure:"backoff" json:"backoff" validate:"required,dive"`
	// Cache are the fallback cache parameters
	Cache CacheConfig `mapstructure:"cache" json:"cache" validate:"required,dive"`
}

// ===============================================================================
// Broadcast Hub Related Config

// InboundRateConfig defines per-connection inbound message limits
type InboundRateConfig struct {
	// PerSecond is the sustained inbound message rate per connection
	PerSecond float64 `mapstructure:"per_second" json:"per_second" validate:"required,gt=0"`
	// Burst is the inbound message burst size per connection
	Burst int `mapstructure:"burst" json:"burst" validate:"required,gte=1"`
}

// HubConfig defines the broadcast hub parameters
type HubConfig struct {
	// MaxConnections is the open connection ceiling; connects beyond it are
	// rejected with an overload notice
	MaxConnections int `mapstructure:"max_connections" json:"max_connections" validate:"required,gte=1"`
	// WarningThreshold is the open connection count that triggers a log-only alert
	WarningThreshold int `mapstructure:"warning_threshold" json:"warning_threshold" validate:"required,gte=1"`
	// ThrottleWindowMS is the minimum spacing in milliseconds between two
	// messages on the same topic
	ThrottleWindowMS int `mapstructure:"throttle_window_ms" json:"throttle_window_ms" validate:"required,gte=1"`
	// IdleTimeout is the inactivity period in seconds after which a connection
	// is evicted
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"required,gte=1"`
	// SweepInterval is the idle eviction sweep cadence in seconds
	SweepInterval int `mapstructure:"sweep_interval_sec" json:"sweep_interval_sec" validate:"required,gte=1"`
	// SendBuffer is the per-connection outbound message buffer size
	SendBuffer int `mapstructure:"send_buffer" json:"send_buffer" validate:"required,gte=1"`
	// MaxMessageSize is the max inbound message size in bytes
	MaxMessageSize int64 `mapstructure:"max_message_size" json:"max_message_size" validate:"required,gte=64"`
	// InboundRate are the per-connection inbound rate limit parameters
	InboundRate InboundRateConfig `mapstructure:"inbound_rate" json:"inbound_rate" validate:"required,dive"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// APIServerConfig defines configuration for the combined ops / subscriber server
type APIServerConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
	// PathPrefix is the end-point path prefix for all APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// ===============================================================================
// NATS Relay Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// RelayConfig defines parameters for the NATS score relay ingest
type RelayConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
	// SubjectPrefix is the NATS subject prefix score updates arrive on
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix" validate:"required"`
	// Workers is the number of decode workers draining the relay subject
	Workers int `mapstructure:"workers" json:"workers" validate:"required,gte=1"`
	// TaskBuffer is the per-worker pending task buffer size
	TaskBuffer int `mapstructure:"task_buffer" json:"task_buffer" validate:"required,gte=1"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete live scoring system config
type SystemConfig struct {
	// Polling are the poll orchestrator configs
	Polling PollingConfig `mapstructure:"polling" json:"polling" validate:"required,dive"`
	// Hub are the broadcast hub configs
	Hub HubConfig `mapstructure:"hub" json:"hub" validate:"required,dive"`
	// API are the ops / subscriber API server configs
	API APIServerConfig `mapstructure:"api" json:"api" validate:"required,dive"`
	// Relay are the optional NATS score relay configs
	Relay *RelayConfig `mapstructure:"relay,omitempty" json:"relay,omitempty" validate:"omitempty,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default polling settings
	viper.SetDefault("polling.enabled", true)
	viper.SetDefault("polling.source.base_uri", "http://localhost:8080")
	viper.SetDefault("polling.interval_sec", 60)
	viper.SetDefault("polling.fetch_timeout_sec", 10)
	viper.SetDefault("polling.backpressure_threshold_ms", 30000)
	viper.SetDefault("polling.season", 2026)
	viper.SetDefault("polling.rate_limit.tier", "free")
	viper.SetDefault("polling.rate_limit.tiers.free.bucket_capacity", 30)
	viper.SetDefault("polling.rate_limit.tiers.free.refill_tokens", 30)
	viper.SetDefault("polling.rate_limit.tiers.free.refill_period_sec", 60)
	viper.SetDefault("polling.rate_limit.tiers.starter.bucket_capacity", 120)
	viper.SetDefault("polling.rate_limit.tiers.starter.refill_tokens", 120)
	viper.SetDefault("polling.rate_limit.tiers.starter.refill_period_sec", 60)
	viper.SetDefault("polling.rate_limit.tiers.paid.bucket_capacity", 600)
	viper.SetDefault("polling.rate_limit.tiers.paid.refill_tokens", 600)
	viper.SetDefault("polling.rate_limit.tiers.paid.refill_period_sec", 60)
	viper.SetDefault("polling.rate_limit.alert_threshold_percent", 20)
	viper.SetDefault("polling.backoff.initial_ms", 1000)
	viper.SetDefault("polling.backoff.max_ms", 300000)
	viper.SetDefault("polling.backoff.multiplier", 2.0)
	viper.SetDefault("polling.backoff.permanent_reduction_threshold", 3)
	viper.SetDefault("polling.backoff.permanent_reduction_percent", 80)
	viper.SetDefault("polling.backoff.capacity_restore_after_sec", 0)
	viper.SetDefault("polling.cache.fresh_ttl_sec", 30)
	viper.SetDefault("polling.cache.stale_ttl_sec", 300)

	// Default hub settings
	viper.SetDefault("hub.max_connections", 12000)
	viper.SetDefault("hub.warning_threshold", 11500)
	viper.SetDefault("hub.throttle_window_ms", 1000)
	viper.SetDefault("hub.idle_timeout_sec", 1800)
	viper.SetDefault("hub.sweep_interval_sec", 300)
	viper.SetDefault("hub.send_buffer", 64)
	viper.SetDefault("hub.max_message_size", 4096)
	viper.SetDefault("hub.inbound_rate.per_second", 5.0)
	viper.SetDefault("hub.inbound_rate.burst", 10)

	// Default API server settings
	viper.SetDefault("api.path_prefix", "/")
	viper.SetDefault("api.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api.server_config.listen_port", 3000)
	viper.SetDefault("api.server_config.read_timeout_sec", 60)
	viper.SetDefault("api.server_config.write_timeout_sec", 60)
	viper.SetDefault("api.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"api.logging_config.request_id_header", "Livescore-Request-ID",
	)
	viper.SetDefault(
		"api.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}

// SelectedTier fetch the active rate limit tier parameters
func (c PollingConfig) SelectedTier() RateLimitTierConfig {
	if tier, ok := c.RateLimit.Tiers[c.RateLimit.Tier]; ok {
		return tier
	}
	// validation restricts tier names, but guard against an empty tier table
	return RateLimitTierConfig{BucketCapacity: 30, RefillTokens: 30, RefillPeriod: 60}
}
