// Package config loads the YAML-described driver and per-channel
// configuration, and lets command-line flags override individual fields,
// the way cmd/hailort's flat os.Args switch layers command-specific
// options over whatever flags main.go already parsed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/channel"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/qdmaerr"
)

// ChannelConfig mirrors the Channel Context configuration fields: direction,
// channel id, descriptor count, buffer size, host/card offsets, the
// continuous-C2H-stream flag, timeout, and minimum size alignment.
type ChannelConfig struct {
	ChannelID                uint32        `yaml:"channel_id"`
	Direction                string        `yaml:"direction"` // "h2c" or "c2h"
	Endpoint                 string        `yaml:"endpoint"`  // "memory" or "stream"
	NumDescriptors           uint32        `yaml:"num_descriptors"`
	BytesPerBuffer           uint32        `yaml:"bytes_per_buffer"`
	HostBufferStartOffset    uint64        `yaml:"host_buffer_start_offset"`
	CardBufferStartOffset    uint64        `yaml:"card_buffer_start_offset"`
	C2HStreamContinuous      bool          `yaml:"c2h_stream_continuous"`
	TimeoutSeconds           float64       `yaml:"timeout_seconds"`
	MinSizeAlignment         uint32        `yaml:"min_size_alignment"`
	ForceH2CWritebackDisable bool          `yaml:"force_h2c_writeback_disable"`
}

// UnmarshalYAML defaults TimeoutSeconds to -1 (disabled) before decoding, so
// a config that simply omits timeout_seconds gets no deadline instead of
// the zero value's immediately-expired one.
func (c *ChannelConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain ChannelConfig
	aux := plain{TimeoutSeconds: -1}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	*c = ChannelConfig(aux)
	return nil
}

// DriverConfig is the top-level document: which PCIe function to bind via
// VFIO, which IOMMU group it belongs to, which BAR carries the QDMA control
// block, the host-buffer backing kind, and the list of channels to bring up.
type DriverConfig struct {
	PCIAddress   string          `yaml:"pci_address"`
	IOMMUGroupID int             `yaml:"iommu_group_id"`
	BARIndex     int             `yaml:"bar_index"`
	Backing      string          `yaml:"backing"` // "heap", "shared_memory", or "huge_pages"
	Channels     []ChannelConfig `yaml:"channels"`
}

// Load decodes a DriverConfig from a YAML file.
func Load(path string) (*DriverConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qdmaerr.Wrap(qdmaerr.KindConfigInvalid, "reading config file", err)
	}

	var cfg DriverConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, qdmaerr.Wrap(qdmaerr.KindConfigInvalid, "parsing config YAML", err)
	}
	return &cfg, nil
}

// ToChannelConfig converts one parsed ChannelConfig entry into the
// internal/channel.Config the initialise step actually consumes, resolving
// the YAML's string direction/endpoint enums and mapping the
// timeout_seconds field into the engine's negative-disables convention
// (spec §4: a negative timeout disables the deadline). The caller fills in
// HostMapping and CardMemorySize afterwards, once the IOMMU-backed
// allocation for this channel exists.
func (c ChannelConfig) ToChannelConfig(deviceName string) (channel.Config, error) {
	var direction channel.Direction
	switch c.Direction {
	case "h2c":
		direction = channel.DirectionH2C
	case "c2h":
		direction = channel.DirectionC2H
	default:
		return channel.Config{}, qdmaerr.Newf(qdmaerr.KindConfigInvalid, "unknown direction %q", c.Direction)
	}

	var endpoint channel.EndpointType
	switch c.Endpoint {
	case "memory":
		endpoint = channel.EndpointMemory
	case "stream":
		endpoint = channel.EndpointStream
	default:
		return channel.Config{}, qdmaerr.Newf(qdmaerr.KindConfigInvalid, "unknown endpoint type %q", c.Endpoint)
	}

	timeout := time.Duration(c.TimeoutSeconds * float64(time.Second))

	return channel.Config{
		DeviceName:            deviceName,
		ChannelID:             c.ChannelID,
		Direction:             direction,
		Endpoint:              endpoint,
		NumDescriptors:        c.NumDescriptors,
		BytesPerBuffer:        c.BytesPerBuffer,
		HostBufferStartOffset: c.HostBufferStartOffset,
		CardBufferStartOffset: c.CardBufferStartOffset,
		C2HStreamContinuous:   c.C2HStreamContinuous,
		Timeout:               timeout,
		MinSizeAlignment:      c.MinSizeAlignment,
	}, nil
}

// ApplyFlagOverride mutates cfg according to one "name=value" command line
// argument, the way cmd/hailort's flat os.Args switch reads args[0] without
// a flag-parsing framework. Recognized names: "pci", "group", "bar".
func ApplyFlagOverride(cfg *DriverConfig, arg string) error {
	name, value, ok := splitFlag(arg)
	if !ok {
		return qdmaerr.Newf(qdmaerr.KindConfigInvalid, "malformed override %q, want name=value", arg)
	}
	switch name {
	case "pci":
		cfg.PCIAddress = value
	case "group":
		var id int
		if _, err := fmt.Sscanf(value, "%d", &id); err != nil {
			return qdmaerr.Wrap(qdmaerr.KindConfigInvalid, "parsing group override", err)
		}
		cfg.IOMMUGroupID = id
	case "bar":
		var idx int
		if _, err := fmt.Sscanf(value, "%d", &idx); err != nil {
			return qdmaerr.Wrap(qdmaerr.KindConfigInvalid, "parsing bar override", err)
		}
		cfg.BARIndex = idx
	default:
		return qdmaerr.Newf(qdmaerr.KindConfigInvalid, "unknown override %q", name)
	}
	return nil
}

func splitFlag(arg string) (name, value string, ok bool) {
	for i := 0; i < len(arg); i++ {
		if arg[i] == '=' {
			return arg[:i], arg[i+1:], true
		}
	}
	return "", "", false
}
