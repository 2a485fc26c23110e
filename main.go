package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/pcapgo"

	"github.com/codefionn/tcflow/tcflow-srv/config"
	"github.com/codefionn/tcflow/tcflow-srv/logger"
	"github.com/codefionn/tcflow/tcflow-srv/packet"
	"github.com/codefionn/tcflow/tcflow-srv/policy"
	"github.com/codefionn/tcflow/tcflow-srv/stats"
	"github.com/codefionn/tcflow/tcflow-srv/statistical"
)

var version string

func main() {
	cfg := parseFlagsAndConfig()
	runClassifier(cfg)
}

// parseFlagsAndConfig handles CLI flags, environment, logging, and config
// loading.
func parseFlagsAndConfig() *config.Config {
	versionFlag := flag.Bool("version", false, "Print version and exit")
	versionShortFlag := flag.Bool("v", false, "Print version and exit (shorthand)")
	configPathPtr := flag.String("config", "config.json", "Path to configuration file")
	capturePtr := flag.String("capture", "", "Path to pcap/pcapng capture file (overrides config)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *versionFlag || *versionShortFlag {
		if version == "" {
			version = "dev"
		}
		fmt.Println("tcflow version:", version)
		os.Exit(0)
	}

	logger.Info("Starting tcflow traffic classifier")
	logger.Debug("Using configuration file: %s", *configPathPtr)

	cfg, err := config.LoadConfig(*configPathPtr)
	if err != nil {
		logger.Warn("Could not load config file: %v. Using environment variables.", err)
		cfg, err = config.LoadConfig("")
		if err != nil {
			logger.Fatal("Failed to load configuration: %v", err)
		}
	}

	logger.SetLevel(logger.GetLevelFromString(cfg.LogLevel))
	if *debugMode {
		logger.SetLevel(logger.DEBUG)
		logger.Debug("Debug logging enabled")
	}
	if *capturePtr != "" {
		cfg.CaptureFile = *capturePtr
	}

	return cfg
}

// runClassifier wires the policy engine, flow inspector and stats collector
// together and replays the configured capture through them.
func runClassifier(cfg *config.Config) {
	pol, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		logger.Fatal("Failed to load traffic classification policy: %v", err)
	}

	collector, err := stats.NewCollectorFactory().CreateCollector(&cfg.Statistics)
	if err != nil {
		logger.Fatal("Failed to create stats collector: %v", err)
	}
	defer func() {
		if closeErr := collector.Close(); closeErr != nil {
			logger.Error("Error closing stats collector: %v", closeErr)
		}
	}()

	inspector := statistical.NewInspector()
	inspector.OnDecision(func(d statistical.FlowDecision) {
		rec := stats.DecisionRecord{
			Protocol:      d.Protocol.String(),
			IPA:           d.IPA,
			IPB:           d.IPB,
			PortA:         d.PortA,
			PortB:         d.PortB,
			Samples:       d.Samples,
			MaxPacketSize: d.MaxSize,
			MinInterval:   d.MinGap,
			MaxInterval:   d.MaxGap,
			Ratio:         d.Ratio,
			QoSTag:        d.QoSTag,
			DecidedAt:     d.DecidedAt,
		}
		if recordErr := collector.RecordDecision(context.Background(), rec); recordErr != nil {
			logger.Error("Failed to record flow decision: %v", recordErr)
		}
	})

	engine := policy.NewEngine(pol, policy.NewIdentity(), policy.NewPayload(), inspector)

	// Aging sweep runs out-of-band on its own ticker, never on the packet
	// path.
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.SweepInterval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				inspector.Sweep(time.Duration(cfg.FCIPMaxAge) * time.Second)
			case <-sweepDone:
				return
			}
		}
	}()
	defer close(sweepDone)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cfg.CaptureFile == "" {
		logger.Fatal("No capture source configured (set capture-file or -capture)")
	}

	replayDone := make(chan error, 1)
	go func() {
		replayDone <- replayCapture(cfg.CaptureFile, engine, collector)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("Received signal %v, shutting down", sig)
	case err := <-replayDone:
		if err != nil {
			logger.Error("Capture replay failed: %v", err)
		}
	}

	overview, err := collector.GetOverviewStats(context.Background())
	if err != nil {
		logger.Error("Failed to read overview stats: %v", err)
		return
	}
	logger.Info("Processed %d packets (%d matched), %d flow decisions (%d low priority)",
		overview.TotalPackets, overview.MatchedPackets,
		overview.TotalDecisions, overview.LowPriorityFlows)
}

// packetSource abstracts the pcap and pcapng readers.
type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// openCapture opens a capture file, choosing the reader by extension.
func openCapture(path string) (packetSource, *os.File, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	if strings.HasSuffix(strings.ToLower(path), ".pcapng") {
		r, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			_ = f.Close()
			return nil, nil, fmt.Errorf("failed to read pcapng header: %w", err)
		}
		return r, f, nil
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	return r, f, nil
}

// replayCapture feeds every packet of the capture through the policy
// engine.
func replayCapture(path string, engine *policy.Engine, collector stats.Collector) error {
	source, f, err := openCapture(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Error("Error closing capture file: %v", closeErr)
		}
	}()

	logger.Info("Replaying capture %s", path)
	count := 0
	for {
		data, ci, err := source.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read packet %d: %w", count+1, err)
		}
		count++

		pkt, err := packet.Decode(data, packet.Meta{Timestamp: ci.Timestamp})
		if err != nil {
			logger.Debug("Skipping undecodable packet %d: %v", count, err)
			continue
		}

		verdict := engine.Check(pkt)
		if verdict.Match {
			logger.Trace("Packet %d matched: continue_to_inspect=%v actions=%v",
				count, verdict.ContinueToInspect, verdict.Actions)
		}
		if recordErr := collector.RecordPacket(context.Background(), verdict.Match); recordErr != nil {
			logger.Error("Failed to record packet: %v", recordErr)
		}
	}
	logger.Info("Capture replay complete: %d packets", count)
	return nil
}
