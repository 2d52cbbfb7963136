// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server configuration, its defaults and validation.

package server

import (
	"crypto/tls"
	"fmt"
	"runtime"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/control"
	"github.com/momentics/hioload-http/protocol/http1"
)

// Config holds all tunables of a Server. Durations of zero disable the
// corresponding guard.
type Config struct {
	// ListenAddrs are host:port pairs. An empty host binds every interface.
	ListenAddrs []string `mapstructure:"listen_addrs"`
	Backlog     int      `mapstructure:"backlog"`

	// NumWorkers is the number of event loops.
	NumWorkers        int `mapstructure:"num_workers"`
	MaxConnsPerWorker int `mapstructure:"max_conns_per_worker"`
	// PinLoops binds each event loop to its own OS thread and CPU.
	PinLoops bool `mapstructure:"pin_loops"`

	// ExecutorWorkers and ExecutorQueue size the pool running handlers.
	ExecutorWorkers int `mapstructure:"executor_workers"`
	ExecutorQueue   int `mapstructure:"executor_queue"`

	ReadBufferSize     int           `mapstructure:"read_buffer_size"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	MaxRequestDuration time.Duration `mapstructure:"max_request_duration"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`

	MaxRequestsPerConn int   `mapstructure:"max_requests_per_conn"`
	MaxPipelineDepth   int   `mapstructure:"max_pipeline_depth"`
	MaxHeaderLineBytes int   `mapstructure:"max_header_line_bytes"`
	MaxHeaderBytes     int   `mapstructure:"max_header_bytes"`
	MaxHeaders         int   `mapstructure:"max_headers"`
	MaxBodyBytes       int64 `mapstructure:"max_body_bytes"`

	WSMaxFrameBytes   int64         `mapstructure:"ws_max_frame_bytes"`
	WSMaxMessageBytes int64         `mapstructure:"ws_max_message_bytes"`
	WSMaxBuffered     int           `mapstructure:"ws_max_buffered"`
	WSPingInterval    time.Duration `mapstructure:"ws_ping_interval"`
	WSCloseTimeout    time.Duration `mapstructure:"ws_close_timeout"`
	// WSRateLimit is the sustained inbound message rate per connection;
	// zero disables limiting.
	WSRateLimit float64 `mapstructure:"ws_rate_limit"`
	WSRateBurst int     `mapstructure:"ws_rate_burst"`

	TLS         *tls.Config        `mapstructure:"-"`
	Logger      hclog.Logger       `mapstructure:"-"`
	MetricsSink metrics.MetricSink `mapstructure:"-"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddrs:        []string{":8080"},
		Backlog:            1024,
		NumWorkers:         runtime.GOMAXPROCS(0),
		MaxConnsPerWorker:  10000,
		ExecutorWorkers:    runtime.NumCPU() * 2,
		ExecutorQueue:      4096,
		ReadBufferSize:     16 << 10,
		IdleTimeout:        60 * time.Second,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		MaxRequestDuration: 60 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		MaxRequestsPerConn: 0,
		MaxPipelineDepth:   16,
		MaxHeaderLineBytes: 8 << 10,
		MaxHeaderBytes:     64 << 10,
		MaxHeaders:         128,
		MaxBodyBytes:       8 << 20,
		WSMaxFrameBytes:    1 << 20,
		WSMaxMessageBytes:  4 << 20,
		WSMaxBuffered:      4 << 20,
		WSPingInterval:     30 * time.Second,
		WSCloseTimeout:     5 * time.Second,
		WSRateBurst:        50,
	}
}

// ConfigFromMap decodes raw on top of DefaultConfig. Durations may be given
// as strings such as "15s"; unknown keys are an error.
func ConfigFromMap(raw map[string]any) (*Config, error) {
	cfg := DefaultConfig()
	if err := control.DecodeConfig(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	bad := func(field string, v any) {
		result = multierror.Append(result, api.NewError(api.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid %s", field)).WithContext("value", v))
	}
	if len(c.ListenAddrs) == 0 {
		result = multierror.Append(result, ErrNoListeners)
	}
	if c.NumWorkers <= 0 {
		bad("num_workers", c.NumWorkers)
	}
	if c.MaxConnsPerWorker <= 0 {
		bad("max_conns_per_worker", c.MaxConnsPerWorker)
	}
	if c.ExecutorWorkers < 0 {
		bad("executor_workers", c.ExecutorWorkers)
	}
	if c.ReadBufferSize < 512 {
		bad("read_buffer_size", c.ReadBufferSize)
	}
	if c.MaxPipelineDepth <= 0 {
		bad("max_pipeline_depth", c.MaxPipelineDepth)
	}
	if c.MaxRequestsPerConn < 0 {
		bad("max_requests_per_conn", c.MaxRequestsPerConn)
	}
	if c.MaxHeaderLineBytes <= 0 || c.MaxHeaderBytes < c.MaxHeaderLineBytes {
		bad("max_header_bytes", c.MaxHeaderBytes)
	}
	if c.MaxHeaders <= 0 {
		bad("max_headers", c.MaxHeaders)
	}
	if c.MaxBodyBytes < 0 {
		bad("max_body_bytes", c.MaxBodyBytes)
	}
	if c.WSMaxFrameBytes <= 0 || c.WSMaxMessageBytes <= 0 {
		bad("ws_max_message_bytes", c.WSMaxMessageBytes)
	}
	if c.WSRateLimit < 0 || (c.WSRateLimit > 0 && c.WSRateBurst <= 0) {
		bad("ws_rate_limit", c.WSRateLimit)
	}
	for name, d := range map[string]time.Duration{
		"idle_timeout":         c.IdleTimeout,
		"read_timeout":         c.ReadTimeout,
		"write_timeout":        c.WriteTimeout,
		"max_request_duration": c.MaxRequestDuration,
		"shutdown_timeout":     c.ShutdownTimeout,
		"ws_ping_interval":     c.WSPingInterval,
		"ws_close_timeout":     c.WSCloseTimeout,
	} {
		if d < 0 {
			bad(name, d)
		}
	}
	return result.ErrorOrNil()
}

func (c *Config) headLimits() http1.Limits {
	return http1.Limits{
		MaxLineBytes: c.MaxHeaderLineBytes,
		MaxHeadBytes: c.MaxHeaderBytes,
		MaxHeaders:   c.MaxHeaders,
	}
}

// sweepInterval is how often loops check timeouts: a quarter of the
// shortest enabled guard, clamped to [10ms, 1s].
func (c *Config) sweepInterval() time.Duration {
	d := time.Second
	for _, t := range []time.Duration{
		c.IdleTimeout, c.ReadTimeout, c.WriteTimeout,
		c.MaxRequestDuration, c.WSPingInterval, c.WSCloseTimeout,
	} {
		if t > 0 && t/4 < d {
			d = t / 4
		}
	}
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}
