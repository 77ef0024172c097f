// holterctl - offline inspection and decoding of Holter session files.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// CLI flags
var (
	channelFlag string
	outputFile  string
	jsonOutput  bool

	synthDuration time.Duration
	synthECGRate  int
	synthIMURate  int
	synthDevice   uint16
	synthSession  uint32
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "holterctl",
	Short:   "holterctl - inspect and decode Holter session files",
	Version: version,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "Print the header of a session file and check its integrity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspectFile(args[0], cmd.OutOrStdout(), jsonOutput)
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode a session file to CSV in physical units (mV, g)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if outputFile != "" {
			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", outputFile, err)
			}
			defer f.Close()
			out = f
		}
		return decodeFile(args[0], channelFlag, out)
	},
}

var synthCmd = &cobra.Command{
	Use:   "synth [file]",
	Short: "Write a session file from the synthetic sensors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := synthesize(args[0], synthOptions{
			Duration:  synthDuration,
			ECGRateHz: synthECGRate,
			IMURateHz: synthIMURate,
			DeviceID:  synthDevice,
			SessionID: synthSession,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: ecg=%d imu=%d size=%d bytes\n",
			report.Path, report.NumECG, report.NumIMU, report.FileSize)
		return nil
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print header as JSON")

	decodeCmd.Flags().StringVarP(&channelFlag, "channel", "c", "ecg", "Channel to decode: ecg or imu")
	decodeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output CSV file (default stdout)")

	synthCmd.Flags().DurationVarP(&synthDuration, "duration", "d", 15*time.Second, "Capture duration")
	synthCmd.Flags().IntVar(&synthECGRate, "ecg-rate", 250, "ECG sampling rate, Hz")
	synthCmd.Flags().IntVar(&synthIMURate, "imu-rate", 0, "IMU sampling rate, Hz (0 disables)")
	synthCmd.Flags().Uint16Var(&synthDevice, "device", 1, "Device id")
	synthCmd.Flags().Uint32Var(&synthSession, "session", 1700000000, "Session id (unix seconds)")

	rootCmd.AddCommand(inspectCmd, decodeCmd, synthCmd)
}
