// Command bwregd runs the per-core memory-bandwidth regulation daemon: it
// wires the configuration surface, the coordinator's apportionment loop,
// and each worker core's PMU counter together, then blocks until an
// interrupt or terminate signal requests shutdown.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joeycumines/go-bwreg/internal/config"
	"github.com/joeycumines/go-bwreg/internal/obslog"
	"github.com/joeycumines/go-bwreg/lifecycle"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

var (
	flagCPUs              string
	flagLLCMissEventID    uint32
	flagRegulationMS      uint32
	flagSlidingWindow     uint32
	flagInitialSetpointMB int64
	flagMaxBWMB           int64
	flagBWTotalMB         int64
	flagEnableMaxBWClamp  bool
	flagEnable            bool
	flagLogLevel          string
	flagLogPretty         bool
)

func main() {
	root := &cobra.Command{
		Use:           "bwregd",
		Short:         "per-core memory-bandwidth regulator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	flags := root.Flags()
	flags.StringVar(&flagCPUs, "cpus", "0", "comma-separated list of CPUs to regulate, e.g. 0,1,2,3")
	flags.Uint32Var(&flagLLCMissEventID, "llc-miss-event-id", 0x10d, "architecture-specific raw LLC-miss PMU event code")
	flags.Uint32Var(&flagRegulationMS, "regulation-interval-ms", config.DefaultRegulationIntervalMS, "regulation interval T_ms")
	flags.Uint32Var(&flagSlidingWindow, "sliding-window-size", config.DefaultSlidingWindowSize, "observational average window length")
	flags.Int64Var(&flagInitialSetpointMB, "initial-setpoint-mb", 1000, "per-core initial bandwidth setpoint, in MB/s")
	flags.Int64Var(&flagMaxBWMB, "max-bw-mb", 30000, "optional per-core clamp, in MB/s")
	flags.Int64Var(&flagBWTotalMB, "bw-total-mb", 0, "total apportionable bandwidth across all cores, in MB/s (0 = sum of initial setpoints)")
	flags.BoolVar(&flagEnableMaxBWClamp, "enable-max-bw-clamp", false, "clamp each core's predicted demand at max-bw-mb before apportionment")
	flags.BoolVar(&flagEnable, "enable", false, "enable regulation immediately on startup")
	flags.StringVar(&flagLogLevel, "log-level", "info", "zerolog level: debug, info, warn, error")
	flags.BoolVar(&flagLogPretty, "log-pretty", false, "use zerolog's human-readable console writer instead of JSON")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("bwregd: invalid --log-level: %w", err)
	}
	log := obslog.New("bwregd", obslog.Options{Writer: os.Stderr, Level: level, Pretty: flagLogPretty})

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Debug().Msgf(format, args...)
	})); err != nil {
		log.Warn().Err(err).Msg("automaxprocs: failed to adjust GOMAXPROCS")
	}

	cpus, err := parseCPUs(flagCPUs)
	if err != nil {
		return fmt.Errorf("bwregd: --cpus: %w", err)
	}

	cfg := config.New(flagLLCMissEventID)
	if err := cfg.SetRegulationIntervalMS(flagRegulationMS); err != nil {
		return fmt.Errorf("bwregd: %w", err)
	}
	if err := cfg.SetSlidingWindowSize(flagSlidingWindow); err != nil {
		return fmt.Errorf("bwregd: %w", err)
	}

	var specs []lifecycle.WorkerSpec
	for _, cpu := range cpus {
		specs = append(specs, lifecycle.WorkerSpec{
			ID:                cpu,
			CPU:               cpu,
			InitialSetpointMB: flagInitialSetpointMB,
			MaxBWMB:           flagMaxBWMB,
		})
	}

	bwTotal := flagBWTotalMB
	if bwTotal <= 0 {
		bwTotal = flagInitialSetpointMB * int64(len(specs))
	}

	machine := lifecycle.New(cfg, lifecycle.Options{
		Workers:            specs,
		BWTotalAvailableMB: bwTotal,
		EnableMaxBWClamp:   flagEnableMaxBWClamp,
		Factory:            lifecycle.NewPMUFactory(),
		Log:                log,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stop := make(chan struct{})
	go func() {
		<-sigCh
		log.Info().Msg("bwregd: received shutdown signal")
		close(stop)
	}()

	if flagEnable {
		cfg.SetEnableRegulation(true)
	}

	log.Info().
		Strs("cpus", intsToStrings(cpus)).
		Uint32("regulation_interval_ms", flagRegulationMS).
		Int64("bw_total_mb", bwTotal).
		Bool("enable", flagEnable).
		Msg("bwregd: starting")

	machine.Run(stop)

	log.Info().Msg("bwregd: stopped")
	return nil
}

func parseCPUs(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid cpu %q: %w", p, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one cpu required")
	}
	return out, nil
}

func intsToStrings(vs []int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = strconv.Itoa(v)
	}
	return out
}
