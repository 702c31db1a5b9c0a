package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SENTINEL"

type Config struct {
	Collector CollectorConfig
	Detection DetectionConfig
	Response  ResponseConfig
	Server    ServerConfig
	Redis     RedisConfig
	Log       LogConfig
}

type CollectorConfig struct {
	Window             time.Duration
	HistorySize        int
	ConnectionTimeout  time.Duration
	MinBaselineSamples int
	AnalysisInterval   time.Duration
	PacketFile         string
}

type DetectionConfig struct {
	DDoSPacketsPerSecond       float64
	DDoSConnectionsPerMinute   float64
	PortScanThreshold          int
	PortScanWindow             time.Duration
	ExfiltrationBytesPerSecond float64
	ExfiltrationMinDuration    time.Duration
	SuspiciousPortThreshold    int
	OffHoursStart              int
	OffHoursEnd                int
}

type ResponseConfig struct {
	StrikeThreshold     int
	Whitelist           []string
	DryRun              bool
	Simulation          bool
	RateLimitPPS        int
	ThrottleBytesPerSec int64
	WebhookURL          string
}

type ServerConfig struct {
	Addr string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("window_seconds", 60)
	v.SetDefault("history_size", 60)
	v.SetDefault("connection_timeout_seconds", 300)
	v.SetDefault("min_baseline_samples", 10)
	v.SetDefault("analysis_interval_seconds", 10)
	v.SetDefault("packet_file", "")

	v.SetDefault("ddos_pps_threshold", 1000)
	v.SetDefault("ddos_connections_per_minute", 600)
	v.SetDefault("port_scan_threshold", 10)
	v.SetDefault("port_scan_window_seconds", 60)
	v.SetDefault("exfil_bytes_per_second", 10*1024*1024)
	v.SetDefault("exfil_min_duration_seconds", 10)
	v.SetDefault("suspicious_port_threshold", 5)
	v.SetDefault("off_hours_start", 0)
	v.SetDefault("off_hours_end", 6)

	v.SetDefault("strike_threshold", 3)
	v.SetDefault("whitelist", []string{"127.0.0.1", "::1"})
	v.SetDefault("dry_run", false)
	v.SetDefault("simulation", true)
	v.SetDefault("rate_limit_pps", 100)
	v.SetDefault("throttle_bytes_per_second", 1024*1024)
	v.SetDefault("webhook_url", "")

	v.SetDefault("http_addr", ":8888")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Load reads defaults, then the optional config file, then SENTINEL_*
// environment variables. An empty path looks for sentinel.yaml in the
// working directory and /etc/sentinel.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sentinel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sentinel")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		Collector: CollectorConfig{
			Window:             seconds(v, "window_seconds"),
			HistorySize:        v.GetInt("history_size"),
			ConnectionTimeout:  seconds(v, "connection_timeout_seconds"),
			MinBaselineSamples: v.GetInt("min_baseline_samples"),
			AnalysisInterval:   seconds(v, "analysis_interval_seconds"),
			PacketFile:         v.GetString("packet_file"),
		},
		Detection: DetectionConfig{
			DDoSPacketsPerSecond:       v.GetFloat64("ddos_pps_threshold"),
			DDoSConnectionsPerMinute:   v.GetFloat64("ddos_connections_per_minute"),
			PortScanThreshold:          v.GetInt("port_scan_threshold"),
			PortScanWindow:             seconds(v, "port_scan_window_seconds"),
			ExfiltrationBytesPerSecond: v.GetFloat64("exfil_bytes_per_second"),
			ExfiltrationMinDuration:    seconds(v, "exfil_min_duration_seconds"),
			SuspiciousPortThreshold:    v.GetInt("suspicious_port_threshold"),
			OffHoursStart:              v.GetInt("off_hours_start"),
			OffHoursEnd:                v.GetInt("off_hours_end"),
		},
		Response: ResponseConfig{
			StrikeThreshold:     v.GetInt("strike_threshold"),
			Whitelist:           splitList(v.GetStringSlice("whitelist")),
			DryRun:              v.GetBool("dry_run"),
			Simulation:          v.GetBool("simulation"),
			RateLimitPPS:        v.GetInt("rate_limit_pps"),
			ThrottleBytesPerSec: v.GetInt64("throttle_bytes_per_second"),
			WebhookURL:          v.GetString("webhook_url"),
		},
		Server: ServerConfig{
			Addr: v.GetString("http_addr"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Collector.Window <= 0:
		return errors.New("window_seconds must be positive")
	case c.Collector.HistorySize <= 0:
		return errors.New("history_size must be positive")
	case c.Collector.AnalysisInterval <= 0:
		return errors.New("analysis_interval_seconds must be positive")
	case c.Detection.OffHoursStart < 0 || c.Detection.OffHoursStart > 23:
		return fmt.Errorf("off_hours_start %d out of range", c.Detection.OffHoursStart)
	case c.Detection.OffHoursEnd < 0 || c.Detection.OffHoursEnd > 24:
		return fmt.Errorf("off_hours_end %d out of range", c.Detection.OffHoursEnd)
	case c.Response.StrikeThreshold <= 0:
		return errors.New("strike_threshold must be positive")
	}
	return nil
}

func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetFloat64(key) * float64(time.Second))
}

// splitList accepts both YAML lists and comma separated env values
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
