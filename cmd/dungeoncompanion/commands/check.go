package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artemshal/DungeonCompanion/internal/shmqueue"
	"github.com/artemshal/DungeonCompanion/internal/vcam"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the virtual camera can be published",
	Long: `Run the virtual camera driver check and print the shared segment layout
for the configured geometry.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	vc := configMgr.Get().VirtualCamera
	out := cmd.OutOrStdout()

	layout := shmqueue.ComputeLayout(uint32(vc.Width), uint32(vc.Height))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Segment\t%s\n", vc.ShmName)
	fmt.Fprintf(tw, "Directory\t%s\n", vc.ShmDir)
	fmt.Fprintf(tw, "Geometry\t%dx%d @ %v fps (interval %d)\n", vc.Width, vc.Height, vc.FPS, vcam.Interval(vc.FPS))
	fmt.Fprintf(tw, "Payload\t%d bytes NV12\n", layout.PayloadSize)
	fmt.Fprintf(tw, "Slots\t%v\n", layout.Offsets)
	fmt.Fprintf(tw, "Size\t%d bytes\n", layout.Size)
	if err := tw.Flush(); err != nil {
		return err
	}
	if err := layout.Validate(); err != nil {
		return err
	}

	if err := vcam.DefaultDriverCheck(vc.ShmDir)(); err != nil {
		fmt.Fprintln(out, vcam.DriverMissingMessage)
		return err
	}
	fmt.Fprintln(out, "Virtual camera driver found")
	return nil
}
