package commands

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/artemshal/DungeonCompanion/internal/monitor"
	"github.com/artemshal/DungeonCompanion/internal/shmqueue"
)

var monitorInterval time.Duration

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the virtual camera segment from the consumer side",
	Long: `Map the shared frame queue read-only, the way the camera driver does, and
show its header, slot timestamps and publish rate. Runs alongside serve.`,
	Example: `  # Watch the configured segment
  dungeoncompanion monitor

  # Sample four times a second
  dungeoncompanion monitor --interval 250ms`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 500*time.Millisecond, "sampling interval")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	vc := configMgr.Get().VirtualCamera

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return monitor.Run(ctx, vc.ShmName, monitorInterval, shmqueue.WithDirectory(vc.ShmDir))
}
