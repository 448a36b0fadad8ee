package rdmconfig

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterFlagsAppliesDefaults(t *testing.T) {
	cfg := &Config{}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	assert.Equal(t, uint(DefaultVID), cfg.VID)
	assert.Equal(t, uint(DefaultPID), cfg.PID)
	assert.Equal(t, DefaultQueueDepth, cfg.QueueDepth)
	assert.False(t, cfg.KernelAssistedHotplug)
	require.NoError(t, cfg.Validate())
}

func TestRegisterFlagsParsesOverrides(t *testing.T) {
	cfg := &Config{}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"-vid=0x0403",
		"-pid=0x6001",
		"-queue-depth=10",
		"-kernel-hotplug",
		"-poll-interval=1s",
	}))

	assert.Equal(t, uint(0x0403), cfg.VID)
	assert.Equal(t, uint(0x6001), cfg.PID)
	assert.Equal(t, 10, cfg.QueueDepth)
	assert.True(t, cfg.KernelAssistedHotplug)
	assert.Equal(t, time.Second, cfg.PollInterval)
}

func TestValidateRejectsOutOfRangeIDs(t *testing.T) {
	cfg := New()
	cfg.VID = 0x1ffff
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveDurations(t *testing.T) {
	cfg := New()
	cfg.DiscoveryTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateAllowsZeroQueueDepthAsUnbounded(t *testing.T) {
	cfg := New()
	cfg.QueueDepth = 0
	assert.NoError(t, cfg.Validate())
}
