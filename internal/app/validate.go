package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
)

var supportedDrivers = map[string]struct{}{
	"sqlite":   {},
	"postgres": {},
	"mysql":    {},
}

// Validate reports every configuration problem that would prevent the server from
// starting. Tokens are minted elsewhere, so the JWT secret is never generated here.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var errs error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	if strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		errs = multierr.Append(errs, errors.New("auth.jwt.secret is required"))
	}

	driver := strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if _, ok := supportedDrivers[driver]; !ok {
		errs = multierr.Append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}

	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		errs = multierr.Append(errs, errors.New("database connection pool sizes must not be negative"))
	}

	if c.Realtime.SendBuffer < 0 {
		errs = multierr.Append(errs, errors.New("realtime.send_buffer must not be negative"))
	}
	if c.Realtime.MaxMessageSize < 0 {
		errs = multierr.Append(errs, errors.New("realtime.max_message_size must not be negative"))
	}

	if spec := strings.TrimSpace(c.Monitoring.StatsSchedule); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("monitoring.stats_schedule: %w", err))
		}
	}

	return errs
}
