// Package kerneld wires the host-side test harness: it drives a Kernel from
// a fixture of framed control bytes and prints METRIC/OK/ERR lines to
// stdout, exactly the flag-driven "build it, then run it, then print the
// summary" shape of the teacher's cmd/root.go.
package kerneld

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sis-kernel/core/internal/kernel/config"
	"github.com/sis-kernel/core/internal/kernel/kernel"
	"github.com/sis-kernel/core/internal/kernel/verify"
)

// simulatedInterruptLatencyNs stands in for a real interrupt controller
// (out of scope per spec.md §1): each scheduler tick also fires one
// simulated timer interrupt at a fixed latency, exercising the IRQ ring
// the way a genuine handler would without requiring hardware.
const simulatedInterruptLatencyNs = 150

var (
	configPath string
	fixturePath string
	logLevel    string
	steps       int
	portName    string
)

var rootCmd = &cobra.Command{
	Use:   "kerneld",
	Short: "Host harness for the deterministic AI kernel core",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bind the control port, replay a frame fixture, and run the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logrus.SetLevel(level)

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading kernel config: %w", err)
		}

		k := kernel.New(cfg, logrus.StandardLogger())

		banner, bound := k.BindControlPort(1, []byte(portName))
		if bound {
			fmt.Println(banner)
		}

		if fixturePath != "" {
			data, err := os.ReadFile(fixturePath)
			if err != nil {
				return fmt.Errorf("reading frame fixture: %w", err)
			}
			for len(data) > 0 {
				reply, consumed := k.HandleWireFrame(data, 0)
				if consumed == 0 {
					break
				}
				if reply != nil {
					fmt.Print(string(reply))
				}
				data = data[consumed:]
			}
		}

		if err := k.RegisterGraphServer(1); err != nil {
			logrus.WithError(err).Warn("kerneld: no graph to schedule, skipping ticks")
		}
		for i := 0; i < steps; i++ {
			if !k.Tick(int64(i)) {
				break
			}
			k.RecordInterrupt(simulatedInterruptLatencyNs)
			if panicked, reason := k.Verify.Panicked(); panicked {
				logrus.WithField("reason", reason).Error("kerneld: unrecoverable invariant violation")
				fmt.Print(verify.PanicLine)
				break
			}
		}
		k.ProcessAiJobs(int64(steps))

		if err := k.WriteMetrics(os.Stdout); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
		if err := k.ExportGraphJSON(os.Stdout); err != nil {
			return fmt.Errorf("exporting graph_json: %w", err)
		}
		if err := k.ExportAuditJSON(os.Stdout); err != nil {
			return fmt.Errorf("exporting audit_json: %w", err)
		}
		return nil
	},
}

// Execute runs the kerneld root command, exiting non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "kernel.yaml", "Path to the kernel PolicyBundle-shaped config")
	runCmd.Flags().StringVar(&fixturePath, "fixture", "", "Path to a binary file of framed V0 control commands to replay")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (debug, info, warn, error)")
	runCmd.Flags().IntVar(&steps, "steps", 100, "Number of scheduler ticks to run after replaying the fixture")
	runCmd.Flags().StringVar(&portName, "port", "sis.datactl", "Control-data port name to bind")

	rootCmd.AddCommand(runCmd)
}
