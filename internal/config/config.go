// Package config turns flags, the optional config file and SYNCQ_*
// environment variables into a validated run configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"syncq/internal/logging"
	"syncq/internal/payload"
	"syncq/internal/report"
	"syncq/internal/runner"
	"syncq/internal/session"
	"syncq/internal/stats"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const EnvPrefix = "SYNCQ"

// File mirrors the config file layout. Durations are strings ("30s", "1m").
type File struct {
	URL      string            `mapstructure:"url"`
	Headers  map[string]string `mapstructure:"headers"`
	Insecure bool              `mapstructure:"insecure"`

	VUs        int           `mapstructure:"vus"`
	Duration   time.Duration `mapstructure:"duration"`
	Iterations int           `mapstructure:"iterations"`
	SpawnRate  float64       `mapstructure:"spawn_rate"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	StallTimeout   time.Duration `mapstructure:"stall_timeout"`
	CloseGrace     time.Duration `mapstructure:"close_grace"`

	Burst           int           `mapstructure:"burst"`
	BurstGap        time.Duration `mapstructure:"burst_gap"`
	Interval        time.Duration `mapstructure:"interval"`
	RequestResponse bool          `mapstructure:"request_response"`
	ThinkTime       time.Duration `mapstructure:"think_time"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	Messages        int           `mapstructure:"messages"`
	SessionDuration time.Duration `mapstructure:"session_duration"`

	Payload      PayloadFile              `mapstructure:"payload"`
	Correlation  string                   `mapstructure:"correlation"`
	Transactions []runner.TransactionSpec `mapstructure:"transactions"`
	Thresholds   map[string][]string      `mapstructure:"thresholds"`
	MaxSamples   int                      `mapstructure:"max_samples"`

	Out         string    `mapstructure:"out"`
	Format      string    `mapstructure:"format"`
	MetricsAddr string    `mapstructure:"metrics_addr"`
	Redis       RedisFile `mapstructure:"redis"`
	History     string    `mapstructure:"history"`
	Log         LogFile   `mapstructure:"log"`
}

type PayloadFile struct {
	Mode             string `mapstructure:"mode"`
	Paragraphs       int    `mapstructure:"paragraphs"`
	Changes          int    `mapstructure:"changes"`
	TextLength       int    `mapstructure:"text_length"`
	ContentSize      int    `mapstructure:"content_size"`
	BulkChanges      int    `mapstructure:"bulk_changes"`
	ChangeTextLength int    `mapstructure:"change_text_length"`
	Msg              string `mapstructure:"msg"`
}

type RedisFile struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
	Channel  string `mapstructure:"channel"`
}

type LogFile struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	Development bool   `mapstructure:"development"`
}

// Settings is everything a run needs: the scenario plus its outputs.
type Settings struct {
	Runner      runner.Config
	Format      report.Format
	MetricsAddr string
	Redis       report.RedisConfig
	History     string
	Log         logging.Config
}

// SetDefaults registers every key so environment overrides are seen by
// Unmarshal even when no config file sets them.
func SetDefaults(v *viper.Viper) {
	p := payload.DefaultOptions()

	v.SetDefault("url", "")
	v.SetDefault("insecure", false)
	v.SetDefault("vus", 1)
	v.SetDefault("duration", "30s")
	v.SetDefault("iterations", 1)
	v.SetDefault("spawn_rate", 0)
	v.SetDefault("connect_timeout", session.DefaultConnectTimeout.String())
	v.SetDefault("stall_timeout", session.DefaultStallTimeout.String())
	v.SetDefault("close_grace", session.DefaultCloseGrace.String())
	v.SetDefault("burst", 0)
	v.SetDefault("burst_gap", "0s")
	v.SetDefault("interval", "0s")
	v.SetDefault("request_response", false)
	v.SetDefault("think_time", "0s")
	v.SetDefault("ping_interval", "0s")
	v.SetDefault("messages", 0)
	v.SetDefault("session_duration", "0s")
	v.SetDefault("payload.mode", string(payload.ModeStructural))
	v.SetDefault("payload.paragraphs", p.Paragraphs)
	v.SetDefault("payload.changes", p.ChangesPerParagraph)
	v.SetDefault("payload.text_length", p.TextLength)
	v.SetDefault("payload.content_size", p.ContentSize)
	v.SetDefault("payload.bulk_changes", p.BulkChanges)
	v.SetDefault("payload.change_text_length", p.ChangeTextLength)
	v.SetDefault("payload.msg", p.Msg)
	v.SetDefault("correlation", string(session.CorrelationExact))
	v.SetDefault("max_samples", 0)
	v.SetDefault("out", "")
	v.SetDefault("format", string(report.FormatJSON))
	v.SetDefault("metrics_addr", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "syncq:summaries")
	v.SetDefault("redis.channel", "syncq:runs")
	v.SetDefault("history", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.development", false)
}

// BindEnv enables SYNCQ_* overrides; nested keys use underscores
// (SYNCQ_PAYLOAD_MODE).
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// DefaultTransactions is used for ordered correlation when none are configured.
func DefaultTransactions() []runner.TransactionSpec {
	return []runner.TransactionSpec{{
		Messages: []runner.MessageSpec{{Msg: "hello", Code: 13}, {Msg: "test", Code: 42}},
	}}
}

func Load(v *viper.Viper) (*Settings, error) {
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return f.Settings()
}

// Settings validates f and converts it.
func (f File) Settings() (*Settings, error) {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch {
	case f.URL == "":
		invalid("url is required")
	case !strings.HasPrefix(f.URL, "ws://") && !strings.HasPrefix(f.URL, "wss://"):
		invalid("url %q must use ws:// or wss://", f.URL)
	}
	if f.VUs <= 0 {
		invalid("vus must be positive, got %d", f.VUs)
	}
	if f.Iterations < 0 {
		invalid("iterations must not be negative")
	}
	if f.Iterations == 0 && f.Duration <= 0 {
		invalid("iterations 0 (loop) requires a duration")
	}
	if f.SpawnRate < 0 {
		invalid("spawn_rate must not be negative")
	}
	if f.Burst < 0 || f.Messages < 0 || f.MaxSamples < 0 {
		invalid("burst, messages and max_samples must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"duration":         f.Duration,
		"connect_timeout":  f.ConnectTimeout,
		"stall_timeout":    f.StallTimeout,
		"close_grace":      f.CloseGrace,
		"burst_gap":        f.BurstGap,
		"interval":         f.Interval,
		"think_time":       f.ThinkTime,
		"ping_interval":    f.PingInterval,
		"session_duration": f.SessionDuration,
	} {
		if d < 0 {
			invalid("%s must not be negative", name)
		}
	}

	mode, err := payload.ParseMode(f.Payload.Mode)
	if err != nil {
		invalid("%v", err)
	}
	corr, err := session.ParseCorrelation(f.Correlation)
	if err != nil {
		invalid("%v", err)
	}
	format, err := report.ParseFormat(f.Format)
	if err != nil {
		invalid("%v", err)
	}
	if _, err := stats.ParseThresholds(f.Thresholds); err != nil {
		invalid("%v", err)
	}

	txs := f.Transactions
	if corr == session.CorrelationOrdered && len(txs) == 0 {
		txs = DefaultTransactions()
	}
	for i, tx := range txs {
		if len(tx.Messages) == 0 {
			invalid("transaction %d has no messages", i)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Settings{
		Runner: runner.Config{
			URL:             f.URL,
			Headers:         f.Headers,
			Insecure:        f.Insecure,
			NumUsers:        f.VUs,
			Duration:        f.Duration,
			Iterations:      f.Iterations,
			SpawnRate:       f.SpawnRate,
			ConnectTimeout:  f.ConnectTimeout,
			StallTimeout:    f.StallTimeout,
			CloseGrace:      f.CloseGrace,
			InitialBurst:    f.Burst,
			BurstGap:        f.BurstGap,
			Interval:        f.Interval,
			RequestResponse: f.RequestResponse,
			ThinkTime:       f.ThinkTime,
			PingInterval:    f.PingInterval,
			MaxMessages:     f.Messages,
			SessionDuration: f.SessionDuration,
			Mode:            mode,
			Payload: payload.Options{
				Paragraphs:          f.Payload.Paragraphs,
				ChangesPerParagraph: f.Payload.Changes,
				TextLength:          f.Payload.TextLength,
				ContentSize:         f.Payload.ContentSize,
				BulkChanges:         f.Payload.BulkChanges,
				ChangeTextLength:    f.Payload.ChangeTextLength,
				Msg:                 f.Payload.Msg,
			},
			Correlation:  corr,
			Transactions: txs,
			Thresholds:   f.Thresholds,
			MaxSamples:   f.MaxSamples,
			OutPrefix:    f.Out,
		},
		Format:      format,
		MetricsAddr: f.MetricsAddr,
		Redis: report.RedisConfig{
			Addr:     f.Redis.Addr,
			Password: f.Redis.Password,
			DB:       f.Redis.DB,
			Key:      f.Redis.Key,
			Channel:  f.Redis.Channel,
		},
		History: f.History,
		Log: logging.Config{
			Level:       f.Log.Level,
			File:        f.Log.File,
			Development: f.Log.Development,
		},
	}, nil
}
