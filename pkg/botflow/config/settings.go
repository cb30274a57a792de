package config

import (
	"errors"
	"fmt"
	"time"
)

// Journal drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Settings is the typed dispatcher configuration.
type Settings struct {
	Dispatch      DispatchSettings
	Session       SessionSettings
	Journal       JournalSettings
	Observability ObservabilitySettings
}

// DispatchSettings controls how listeners of one event are run.
type DispatchSettings struct {
	// Parallel runs the listeners of one event concurrently. Results are
	// still emitted in priority order.
	Parallel bool
	// ConcurrencyLimit bounds parallel listeners per event. Zero means
	// unlimited.
	ConcurrencyLimit int
	// ListenerTimeout bounds each listener invocation. Zero disables it.
	ListenerTimeout time.Duration
}

// SessionSettings controls continuous sessions.
type SessionSettings struct {
	// DefaultTimeout applies to Await calls made without an explicit
	// timeout. Zero waits until the session is cancelled.
	DefaultTimeout time.Duration
}

// JournalSettings selects where failed listener results are recorded.
type JournalSettings struct {
	Enabled bool
	Driver  string
	Path    string
}

// ObservabilitySettings toggles OpenTelemetry instrumentation.
type ObservabilitySettings struct {
	Metrics bool
	Tracing bool
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		Journal: JournalSettings{Driver: DriverMemory},
	}
}

// FromConfig extracts Settings from a generic Config. Missing keys keep
// their Default values.
//
// Layout:
//
//	dispatch:
//	  parallel: true
//	  concurrency_limit: 4
//	  listener_timeout: 30s
//	session:
//	  default_timeout: 5m
//	journal:
//	  enabled: true
//	  driver: sqlite
//	  path: ./failures.db
//	observability:
//	  metrics: true
//	  tracing: false
func FromConfig(c Config) Settings {
	s := Default()

	d := c.Section("dispatch")
	s.Dispatch.Parallel = d.Bool("parallel", s.Dispatch.Parallel)
	s.Dispatch.ConcurrencyLimit = d.Int("concurrency_limit", s.Dispatch.ConcurrencyLimit)
	s.Dispatch.ListenerTimeout = d.Duration("listener_timeout", s.Dispatch.ListenerTimeout)

	sess := c.Section("session")
	s.Session.DefaultTimeout = sess.Duration("default_timeout", s.Session.DefaultTimeout)

	j := c.Section("journal")
	s.Journal.Enabled = j.Bool("enabled", s.Journal.Enabled)
	s.Journal.Driver = j.String("driver", s.Journal.Driver)
	s.Journal.Path = j.String("path", s.Journal.Path)

	o := c.Section("observability")
	s.Observability.Metrics = o.Bool("metrics", s.Observability.Metrics)
	s.Observability.Tracing = o.Bool("tracing", s.Observability.Tracing)

	return s
}

// Validate reports every invalid setting.
func (s Settings) Validate() error {
	var errs []error
	if s.Dispatch.ConcurrencyLimit < 0 {
		errs = append(errs, fmt.Errorf("dispatch.concurrency_limit must be >= 0, got %d", s.Dispatch.ConcurrencyLimit))
	}
	if s.Dispatch.ListenerTimeout < 0 {
		errs = append(errs, fmt.Errorf("dispatch.listener_timeout must be >= 0, got %s", s.Dispatch.ListenerTimeout))
	}
	if s.Session.DefaultTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.default_timeout must be >= 0, got %s", s.Session.DefaultTimeout))
	}
	switch s.Journal.Driver {
	case DriverMemory:
	case DriverSQLite:
		if s.Journal.Enabled && s.Journal.Path == "" {
			errs = append(errs, errors.New("journal.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("journal.driver %q is not supported", s.Journal.Driver))
	}
	return errors.Join(errs...)
}
