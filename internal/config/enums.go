package config

import "git.home.luguber.info/inful/actionworker/internal/foundation/normalization"

// LogLevel is a logging threshold.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var logLevels = normalization.NewNormalizer(map[string]LogLevel{
	"debug":   LogLevelDebug,
	"info":    LogLevelInfo,
	"warn":    LogLevelWarn,
	"warning": LogLevelWarn,
	"error":   LogLevelError,
}, LogLevelInfo)

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

var logFormats = normalization.NewNormalizer(map[string]LogFormat{
	"text": LogFormatText,
	"json": LogFormatJSON,
}, LogFormatText)

// TransportKind selects the message channel between host and worker.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportNATS  TransportKind = "nats"
)

var transports = normalization.NewNormalizer(map[string]TransportKind{
	"stdio": TransportStdio,
	"nats":  TransportNATS,
}, TransportStdio)
