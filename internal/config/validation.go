package config

import (
	"net"
	"net/url"
	"strings"

	ferrors "git.home.luguber.info/inful/actionworker/internal/foundation/errors"
)

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	if cfg.Worker.Implementation == "" || !strings.Contains(cfg.Worker.Implementation, ".") {
		return ferrors.ValidationError("worker.implementation must be a qualified symbol name").
			WithContext("implementation", cfg.Worker.Implementation).
			Build()
	}
	if cfg.Transport.Kind == TransportNATS {
		u, err := url.Parse(cfg.Transport.NATSURL)
		if err != nil || u.Host == "" {
			return ferrors.ValidationError("transport.nats_url is not a valid URL").
				WithContext("url", cfg.Transport.NATSURL).
				Build()
		}
		if strings.ContainsAny(cfg.Transport.SubjectPrefix, " *>") {
			return ferrors.ValidationError("transport.subject_prefix contains wildcard or space").
				WithContext("prefix", cfg.Transport.SubjectPrefix).
				Build()
		}
	}
	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			return ferrors.ValidationError("metrics.listen must be host:port").
				WithContext("listen", cfg.Metrics.Listen).
				Build()
		}
	}
	return nil
}
