package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "jobgate",
	Short: "Payment-gated wallet scoring job service",
	Long: `jobgate accepts wallet scoring jobs over HTTP, waits for the job's
payment to be confirmed by the payment service, then analyzes the address
and stores a risk score and report.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (environment variables override it)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(purchasePayloadCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
