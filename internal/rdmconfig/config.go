// Package rdmconfig loads the small set of knobs both cmd/rdmctl and
// cmd/rdmmon need to open a Ja Rule widget and run the controller: VID/PID
// override, hotplug poll interval, controller queue depth, and discovery
// timeout. The teacher has no config package at the repository root (its
// pipeline sub-tools read .env via godotenv, out of scope here — see
// DESIGN.md); this instead follows the flag-registration style the teacher
// uses directly in cmd/cli/main.go and cmd/monitor/main.go, generalized
// into a struct so both binaries share one flag set instead of duplicating
// var declarations.
package rdmconfig

import (
	"flag"
	"fmt"
	"time"
)

// DefaultVID/DefaultPID are the Ja Rule widget's USB identifiers per
// spec.md §6.
const (
	DefaultVID = 0x1209
	DefaultPID = 0xaced
)

const (
	DefaultQueueDepth       = 50
	DefaultDiscoveryTimeout = 2 * time.Second
	DefaultRDMTimeout       = 500 * time.Millisecond
	DefaultPollInterval     = 5 * time.Second
)

// Config holds the resolved runtime configuration for an RDM controller
// core instance.
type Config struct {
	VID uint
	PID uint

	PollInterval     time.Duration
	QueueDepth       int
	DiscoveryTimeout time.Duration
	RDMTimeout       time.Duration

	KernelAssistedHotplug bool
}

// RegisterFlags binds Config's fields to fs, so cmd/rdmctl and cmd/rdmmon
// can call it against flag.CommandLine (or a FlagSet built for testing)
// before flag.Parse.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.UintVar(&c.VID, "vid", DefaultVID, "Ja Rule widget USB vendor id")
	fs.UintVar(&c.PID, "pid", DefaultPID, "Ja Rule widget USB product id")
	fs.DurationVar(&c.PollInterval, "poll-interval", DefaultPollInterval, "hotplug poll interval when kernel-assisted notification is unavailable")
	fs.IntVar(&c.QueueDepth, "queue-depth", DefaultQueueDepth, "maximum queued RDM/discovery requests per controller before the newest is evicted")
	fs.DurationVar(&c.DiscoveryTimeout, "discovery-timeout", DefaultDiscoveryTimeout, "DUB round-trip timeout; validated, but not passed to the discovery agent, which applies no per-branch timeout")
	fs.DurationVar(&c.RDMTimeout, "rdm-timeout", DefaultRDMTimeout, "per-request RDM round-trip timeout")
	fs.BoolVar(&c.KernelAssistedHotplug, "kernel-hotplug", false, "use kernel-assisted hotplug notification instead of polling (falls back to polling; see internal/hotplug)")
}

// New returns a Config populated with defaults, for callers that don't go
// through flag registration (e.g. tests).
func New() *Config {
	return &Config{
		VID:              DefaultVID,
		PID:              DefaultPID,
		PollInterval:     DefaultPollInterval,
		QueueDepth:       DefaultQueueDepth,
		DiscoveryTimeout: DefaultDiscoveryTimeout,
		RDMTimeout:       DefaultRDMTimeout,
	}
}

// Validate rejects configurations that would make the controller or
// discovery agent misbehave rather than letting them fail confusingly
// later.
func (c *Config) Validate() error {
	if c.VID == 0 || c.VID > 0xffff {
		return fmt.Errorf("rdmconfig: vid %#x out of range", c.VID)
	}
	if c.PID == 0 || c.PID > 0xffff {
		return fmt.Errorf("rdmconfig: pid %#x out of range", c.PID)
	}
	if c.QueueDepth < 0 {
		return fmt.Errorf("rdmconfig: queue-depth must be >= 0 (0 means unbounded), got %d", c.QueueDepth)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("rdmconfig: poll-interval must be positive, got %s", c.PollInterval)
	}
	if c.DiscoveryTimeout <= 0 {
		return fmt.Errorf("rdmconfig: discovery-timeout must be positive, got %s", c.DiscoveryTimeout)
	}
	if c.RDMTimeout <= 0 {
		return fmt.Errorf("rdmconfig: rdm-timeout must be positive, got %s", c.RDMTimeout)
	}
	return nil
}
