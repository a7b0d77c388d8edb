// Command qdmactl is the driver's command-line entry point: scan for
// VFIO-bound PCIe functions, bring a configured set of channels up, run a
// host-to-card-to-host loopback, or benchmark sustained throughput. Dispatch
// follows cmd/hailort/main.go's flat os.Args switch rather than a flag
// framework, matching the rest of this repo's ambient-stack choices.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/Chester-Gillon/fpga-sio-sub000/internal/channel"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/clock"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/config"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/dmaarena"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/driverio"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/stream"
	"github.com/Chester-Gillon/fpga-sio-sub000/internal/xlxdesign"
)

var (
	Version = "dev"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "scan":
		cmdScan()
	case "init":
		if len(args) < 1 {
			fmt.Println("Usage: qdmactl init <config.yaml> [override...]")
			os.Exit(1)
		}
		cmdInit(args[0], args[1:])
	case "loopback":
		if len(args) < 1 {
			fmt.Println("Usage: qdmactl loopback <config.yaml> [override...]")
			os.Exit(1)
		}
		cmdLoopback(args[0], args[1:])
	case "bench":
		if len(args) < 1 {
			fmt.Println("Usage: qdmactl bench <config.yaml> [override...]")
			os.Exit(1)
		}
		cmdBench(args[0], args[1:])
	case "version":
		fmt.Printf("qdmactl version %s\n", Version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("qdmactl: QDMA user-space driver harness")
	fmt.Println()
	fmt.Println("Usage: qdmactl <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  scan                        List VFIO-bound IOMMU groups")
	fmt.Println("  init <config.yaml>          Bring channels up, then finalise")
	fmt.Println("  loopback <config.yaml>      Run a host-to-card-to-host round trip")
	fmt.Println("  bench <config.yaml>         Run sustained multi-stream throughput")
	fmt.Println("  version                     Print version information")
	fmt.Println("  help                        Show this help")
}

func cmdScan() {
	groups, err := driverio.ScanGroups()
	if err != nil {
		fmt.Printf("Error scanning IOMMU groups: %v\n", err)
		os.Exit(1)
	}
	if len(groups) == 0 {
		fmt.Println("No VFIO-bound IOMMU groups found")
		return
	}
	fmt.Printf("Found %d VFIO-bound group(s):\n", len(groups))
	for _, g := range groups {
		fmt.Printf("  group %d: %v\n", g.GroupID, g.PCIAddresses)
	}
}

// loadAndOpen parses cfgPath, applies any "name=value" overrides, and opens
// the VFIO group and device it names.
func loadAndOpen(cfgPath string, overrides []string) (*config.DriverConfig, *driverio.Container, *driverio.Device, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, o := range overrides {
		if err := config.ApplyFlagOverride(cfg, o); err != nil {
			return nil, nil, nil, err
		}
	}

	c, err := driverio.OpenGroup(cfg.IOMMUGroupID)
	if err != nil {
		return nil, nil, nil, err
	}
	dev, err := c.OpenDevice(cfg.PCIAddress)
	if err != nil {
		c.Close()
		return nil, nil, nil, err
	}
	return cfg, c, dev, nil
}

func backingKind(name string) driverio.BackingKind {
	switch name {
	case "shared_memory":
		return driverio.BackingSharedMemory
	case "huge_pages":
		return driverio.BackingHugePages
	default:
		return driverio.BackingHeap
	}
}

// bringUpChannels maps the configured BAR, allocates one descriptor-ring
// arena and one payload mapping per channel, and initialises a
// channel.Context for every configured channel.
func bringUpChannels(cfg *config.DriverConfig, c *driverio.Container, dev *driverio.Device) ([]*channel.Context, error) {
	bar, err := dev.MapBAR(cfg.BARIndex)
	if err != nil {
		return nil, err
	}

	metadata, err := xlxdesign.ReadMetadata(bar)
	if err != nil {
		fmt.Printf("warning: no design metadata block found: %v\n", err)
	}

	var contexts []*channel.Context
	overallSuccess := true
	for _, cc := range cfg.Channels {
		chCfg, err := cc.ToChannelConfig(cfg.PCIAddress)
		if err != nil {
			return contexts, err
		}

		ringBytes := dmaarena.SizeNeededForRing(dmaarena.RingSizeConfig{
			NumDescriptors: cc.NumDescriptors,
			IsC2HStream:    chCfg.Direction == channel.DirectionC2H && chCfg.Endpoint == channel.EndpointStream,
		})
		descMapping, err := c.Allocate(uint64(ringBytes), driverio.AccessRead|driverio.AccessWrite, backingKind(cfg.Backing))
		if err != nil {
			return contexts, err
		}
		arena := dmaarena.New(descMapping)

		payloadBytes := uint64(cc.NumDescriptors) * uint64(cc.BytesPerBuffer)
		if payloadBytes == 0 {
			payloadBytes = 1 << 20
		}
		payloadMapping, err := c.Allocate(payloadBytes, driverio.AccessRead|driverio.AccessWrite, backingKind(cfg.Backing))
		if err != nil {
			return contexts, err
		}
		chCfg.HostMapping = payloadMapping
		chCfg.CardMemorySize = metadata.DMABridgeMemorySizeBytes

		ctx, err := channel.Initialise(arena, bar, chCfg, &overallSuccess)
		if err != nil {
			return contexts, err
		}
		contexts = append(contexts, ctx)
	}
	return contexts, nil
}

func cmdInit(cfgPath string, overrides []string) {
	cfg, c, dev, err := loadAndOpen(cfgPath, overrides)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()
	defer c.Close()

	contexts, err := bringUpChannels(cfg, c, dev)
	for _, ctx := range contexts {
		defer ctx.Finalise()
	}
	if err != nil {
		fmt.Printf("Error bringing up channels: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Initialised %d channel(s) on %s\n", len(contexts), cfg.PCIAddress)
}

func cmdLoopback(cfgPath string, overrides []string) {
	cfg, c, dev, err := loadAndOpen(cfgPath, overrides)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()
	defer c.Close()

	contexts, err := bringUpChannels(cfg, c, dev)
	for _, ctx := range contexts {
		defer ctx.Finalise()
	}
	if err != nil {
		fmt.Printf("Error bringing up channels: %v\n", err)
		os.Exit(1)
	}

	var h2c, c2h *channel.Context
	for _, ctx := range contexts {
		if ctx.Direction() == channel.DirectionH2C {
			h2c = ctx
		} else {
			c2h = ctx
		}
	}
	if h2c == nil || c2h == nil {
		fmt.Println("loopback requires one h2c and one c2h channel in the config")
		os.Exit(1)
	}

	gen := clock.NewLCG32(uint32(time.Now().UnixNano()))
	buf, ok := h2c.GetNextH2CBuffer()
	if !ok {
		fmt.Println("no free H2C descriptor")
		os.Exit(1)
	}
	clock.FillPattern(gen, buf)
	want := clock.Crc64ECMA(buf)
	h2c.StartPopulatedDescriptors()
	c2h.StartNextC2HBuffer()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, _, ok := h2c.PollCompletedTransfer(); ok {
			break
		}
	}
	for time.Now().Before(deadline) {
		got, _, _, ok := c2h.PollCompletedTransfer()
		if ok {
			if clock.Crc64ECMA(got) == want {
				fmt.Println("loopback OK: checksum matched")
			} else {
				fmt.Println("loopback FAILED: checksum mismatch")
				os.Exit(1)
			}
			return
		}
	}
	fmt.Println("loopback FAILED: timed out waiting for completion")
	os.Exit(1)
}

func cmdBench(cfgPath string, overrides []string) {
	cfg, c, dev, err := loadAndOpen(cfgPath, overrides)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()
	defer c.Close()

	contexts, err := bringUpChannels(cfg, c, dev)
	for _, ctx := range contexts {
		defer ctx.Finalise()
	}
	if err != nil {
		fmt.Printf("Error bringing up channels: %v\n", err)
		os.Exit(1)
	}

	streams := make([]*stream.Stream, len(contexts))
	for i, ctx := range contexts {
		streams[i] = stream.NewStream(fmt.Sprintf("%s/%s/ch%d", cfg.PCIAddress, cfg.Channels[i].Direction, cfg.Channels[i].ChannelID), ctx, uint32(i+1))
	}
	driver := stream.NewDriver(streams)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		driver.RequestStop()
	}()

	runDone := make(chan struct{})
	go func() {
		driver.Run()
		close(runDone)
	}()

	var intervalMBps []float64
	for {
		select {
		case <-runDone:
			printPercentiles(intervalMBps)
			return
		default:
		}
		snapshots := driver.Collect()
		for _, s := range snapshots {
			seconds := s.IntervalEnd.Sub(s.IntervalStart).Seconds()
			if seconds <= 0 {
				continue
			}
			mbPerSec := float64(s.BytesThisInterval) / seconds / (1 << 20)
			intervalMBps = append(intervalMBps, mbPerSec)
			fmt.Printf("%s: %d transfers, %.2f MB/s\n", s.Name, s.TransfersThisInterval, mbPerSec)
		}
	}
}

// printPercentiles reports p50/p90/p99 throughput over a sorted copy of the
// per-interval MB/s samples. No statistics library appears anywhere in the
// retrieved example pack for this kind of one-shot percentile computation,
// so this stays on the standard library's sort.Float64s plus index
// arithmetic.
func printPercentiles(samplesMBps []float64) {
	if len(samplesMBps) == 0 {
		return
	}
	sorted := append([]float64(nil), samplesMBps...)
	sort.Float64s(sorted)
	fmt.Printf("throughput p50=%.2f p90=%.2f p99=%.2f MB/s\n", percentile(sorted, 0.50), percentile(sorted, 0.90), percentile(sorted, 0.99))
}

// percentile indexes into an already-sorted slice; p is in [0, 1].
func percentile(sorted []float64, p float64) float64 {
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
