package config

import (
	"errors"
	"fmt"
	"strings"
)

// normalize canonicalizes enumerations and trims strings. Unknown values are
// errors; cosmetic changes are reported as warnings.
func normalize(cfg *Config) ([]string, error) {
	var warnings []string
	var errs []error

	note := func(field, before, after string) {
		if before != "" && before != after {
			warnings = append(warnings, fmt.Sprintf("%s %q normalized to %q", field, before, after))
		}
	}

	if v, err := logLevels.Parse("logging.level", string(cfg.Logging.Level)); err != nil {
		errs = append(errs, err)
	} else {
		note("logging.level", string(cfg.Logging.Level), string(v))
		cfg.Logging.Level = v
	}
	if v, err := logFormats.Parse("logging.format", string(cfg.Logging.Format)); err != nil {
		errs = append(errs, err)
	} else {
		note("logging.format", string(cfg.Logging.Format), string(v))
		cfg.Logging.Format = v
	}
	if cfg.Worker.ActionLogLevel != "" {
		if v, err := logLevels.Parse("worker.action_log_level", string(cfg.Worker.ActionLogLevel)); err != nil {
			errs = append(errs, err)
		} else {
			note("worker.action_log_level", string(cfg.Worker.ActionLogLevel), string(v))
			cfg.Worker.ActionLogLevel = v
		}
	}
	if v, err := transports.Parse("transport.kind", string(cfg.Transport.Kind)); err != nil {
		errs = append(errs, err)
	} else {
		note("transport.kind", string(cfg.Transport.Kind), string(v))
		cfg.Transport.Kind = v
	}

	cfg.Worker.ID = strings.TrimSpace(cfg.Worker.ID)
	cfg.Worker.Implementation = strings.TrimSpace(cfg.Worker.Implementation)
	cfg.Transport.NATSURL = strings.TrimSpace(cfg.Transport.NATSURL)
	cfg.Transport.SubjectPrefix = strings.Trim(strings.TrimSpace(cfg.Transport.SubjectPrefix), ".")
	return warnings, errors.Join(errs...)
}
