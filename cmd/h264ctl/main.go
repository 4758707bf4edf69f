package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/h264encoder/internal/config"
	"github.com/breeze-rmm/h264encoder/internal/telemetry"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = telemetry.L("main")

var rootCmd = &cobra.Command{
	Use:   "h264ctl",
	Short: "H.264 stateless encoder harness",
	Long:  `h264ctl drives the stateless H.264 encoder control core against the software backend and fans coded output out to the configured sinks.`,
}

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Encode a synthetic frame stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEncode()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("h264ctl v%s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the configuration and report every invalid value",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		errs := cfg.Validate()
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
		}
		if len(errs) > 0 {
			return fmt.Errorf("%d invalid value(s)", len(errs))
		}
		fmt.Println("configuration is valid")
		return nil
	},
}

var (
	frameCount int
	structure  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./h264ctl.yaml)")

	encodeCmd.Flags().IntVar(&frameCount, "frames", 300, "number of synthetic frames to encode")
	encodeCmd.Flags().StringVar(&structure, "structure", "", "prediction structure override: low_delay or group_of_pictures")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
