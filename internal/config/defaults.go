package config

import (
	"git.home.luguber.info/inful/actionworker/internal/daemon"
	"git.home.luguber.info/inful/actionworker/internal/transport/natschan"
)

const (
	defaultMetricsListen = "127.0.0.1:9464"
	defaultJournalPath   = "actionworker-journal.db"
)

func applyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = Version
	}
	if cfg.Worker.Implementation == "" {
		cfg.Worker.Implementation = daemon.ServerSymbol
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = LogLevelInfo
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = LogFormatText
	}
	if cfg.Worker.ActionLogLevel == "" {
		cfg.Worker.ActionLogLevel = cfg.Logging.Level
	}
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = TransportStdio
	}
	if cfg.Transport.Kind == TransportNATS {
		if cfg.Transport.NATSURL == "" {
			cfg.Transport.NATSURL = "nats://127.0.0.1:4222"
		}
		if cfg.Transport.SubjectPrefix == "" {
			cfg.Transport.SubjectPrefix = natschan.DefaultPrefix
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = defaultMetricsListen
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = defaultJournalPath
	}
}
