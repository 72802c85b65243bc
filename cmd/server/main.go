package main

import (
	"os"

	"hls-proxy/internal/platform/config"

	"github.com/spf13/cobra"
)

var envFile string

// rootCmd runs the proxy server when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "hlsproxy",
	Short: "Token-gated HLS playlist rewriting proxy",
	Long: `hlsproxy fetches HLS playlists on behalf of browser players, rewrites every
URI in them to point back at the proxy with a short-lived signed token, and
streams segments and keys through with browser-friendly CORS headers.

Configuration is read from the environment and an optional .env file.`,
	Example: `  # Start the server (same as "hlsproxy serve")
  PROXY_SECRET=change-me hlsproxy

  # Print a ready-to-play proxy URL for a stream
  hlsproxy token --base https://proxy.example.com https://cdn.example.com/live/master.m3u8`,
	SilenceUsage:      true,
	PersistentPreRunE: loadEnv,
	RunE:              runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from this file instead of ./.env")
	rootCmd.AddCommand(serveCmd, tokenCmd)
}

// loadEnv applies the .env file before any command reads configuration.
// A missing default file is not an error.
func loadEnv(cmd *cobra.Command, args []string) error {
	if envFile != "" {
		return config.Load(envFile)
	}
	_ = config.Load()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
