//go:build unit

package config

import (
	"path/filepath"
	"testing"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/channel"
	"github.com/Chester-Gillon/fpga-sio-sub000/testutil"
)

const sampleYAML = `
pci_address: "0000:01:00.0"
iommu_group_id: 5
bar_index: 0
backing: heap
channels:
  - channel_id: 0
    direction: h2c
    endpoint: memory
    num_descriptors: 64
    bytes_per_buffer: 4096
    timeout_seconds: 2.5
  - channel_id: 0
    direction: c2h
    endpoint: stream
    num_descriptors: 8
    c2h_stream_continuous: true
    timeout_seconds: -1
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	return testutil.TempFile(t, "qdma.yaml", []byte(contents))
}

func TestLoadParsesDriverAndChannelFields(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PCIAddress != "0000:01:00.0" || cfg.IOMMUGroupID != 5 || cfg.BARIndex != 0 {
		t.Fatalf("driver fields wrong: %+v", cfg)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("got %d channels, want 2", len(cfg.Channels))
	}
	if cfg.Channels[0].Direction != "h2c" || cfg.Channels[0].NumDescriptors != 64 {
		t.Errorf("channel 0 = %+v", cfg.Channels[0])
	}
	if !cfg.Channels[1].C2HStreamContinuous {
		t.Errorf("channel 1 should be continuous: %+v", cfg.Channels[1])
	}
}

func TestLoadDefaultsOmittedTimeoutToDisabled(t *testing.T) {
	const noTimeoutYAML = `
pci_address: "0000:01:00.0"
iommu_group_id: 5
bar_index: 0
backing: heap
channels:
  - channel_id: 0
    direction: h2c
    endpoint: memory
    num_descriptors: 64
    bytes_per_buffer: 4096
`
	cfg, err := Load(writeTempConfig(t, noTimeoutYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channels[0].TimeoutSeconds >= 0 {
		t.Fatalf("TimeoutSeconds = %v, want negative (disabled) when omitted", cfg.Channels[0].TimeoutSeconds)
	}

	got, err := cfg.Channels[0].ToChannelConfig(cfg.PCIAddress)
	if err != nil {
		t.Fatalf("ToChannelConfig: %v", err)
	}
	if got.Timeout >= 0 {
		t.Fatalf("Timeout = %v, want negative (disabled) when timeout_seconds is omitted", got.Timeout)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(testutil.TempDir(t), "missing.yaml"))
	testutil.AssertError(t, err, "Load of missing file")
}

func TestToChannelConfigTranslatesEnumsAndTimeout(t *testing.T) {
	cc := ChannelConfig{ChannelID: 1, Direction: "h2c", Endpoint: "memory", NumDescriptors: 4, TimeoutSeconds: 1.5}
	got, err := cc.ToChannelConfig("0000:01:00.0")
	testutil.AssertNoError(t, err, "ToChannelConfig")
	if got.Direction != channel.DirectionH2C {
		t.Errorf("Direction = %v, want DirectionH2C", got.Direction)
	}
	if got.Endpoint != channel.EndpointMemory {
		t.Errorf("Endpoint = %v, want EndpointMemory", got.Endpoint)
	}
	if got.Timeout.Seconds() != 1.5 {
		t.Errorf("Timeout = %v, want 1.5s", got.Timeout)
	}
}

func TestToChannelConfigRejectsUnknownDirection(t *testing.T) {
	cc := ChannelConfig{Direction: "sideways", Endpoint: "memory"}
	if _, err := cc.ToChannelConfig("dev"); err == nil {
		t.Fatal("expected error for unknown direction")
	}
}

func TestApplyFlagOverride(t *testing.T) {
	cfg := &DriverConfig{}
	for _, arg := range []string{"pci=0000:02:00.0", "group=7", "bar=2"} {
		if err := ApplyFlagOverride(cfg, arg); err != nil {
			t.Fatalf("ApplyFlagOverride(%q): %v", arg, err)
		}
	}
	if cfg.PCIAddress != "0000:02:00.0" || cfg.IOMMUGroupID != 7 || cfg.BARIndex != 2 {
		t.Fatalf("overrides did not apply: %+v", cfg)
	}
}

func TestApplyFlagOverrideRejectsMalformed(t *testing.T) {
	cfg := &DriverConfig{}
	if err := ApplyFlagOverride(cfg, "no-equals-sign"); err == nil {
		t.Fatal("expected error for malformed override")
	}
}
