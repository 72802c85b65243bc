package main

import (
	"errors"
	"fmt"
	"strings"

	"hls-proxy/internal/platform/config"
	"hls-proxy/internal/proxy"

	"github.com/spf13/cobra"
)

var (
	tokenReferer string
	tokenBase    string
)

var tokenCmd = &cobra.Command{
	Use:   "token URL",
	Short: "Print a signed proxy URL for a stream",
	Long: `token signs URL with PROXY_SECRET and prints the proxy URL a player can load.
The URL stays valid for (TOKEN_SKEW_BUCKETS+1) minutes.`,
	Example: `  hlsproxy token --base https://proxy.example.com https://cdn.example.com/live/master.m3u8
  hlsproxy token --referer https://site.example.com/watch https://cdn.example.com/live/master.m3u8`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenReferer, "referer", "", "Referer the upstream origin expects")
	tokenCmd.Flags().StringVar(&tokenBase, "base", "", "Public base URL of the proxy (defaults to PUBLIC_BASE_URL)")
}

func runToken(cmd *cobra.Command, args []string) error {
	ref, err := proxy.NewStreamReference(args[0], tokenReferer)
	if err != nil {
		return err
	}

	base := tokenBase
	if base == "" {
		base = config.GetEnv("PUBLIC_BASE_URL", "")
	}
	if base == "" {
		return errors.New("no proxy base url: pass --base or set PUBLIC_BASE_URL")
	}

	codec, err := proxy.NewCodec(config.GetEnv("PROXY_SECRET", ""), config.GetEnvInt("TOKEN_SKEW_BUCKETS", proxy.DefaultSkewBuckets))
	if err != nil {
		return err
	}

	target := ref.Annotated()
	endpoint := strings.TrimSuffix(base, "/") + proxy.ProxyPath
	fmt.Fprintln(cmd.OutOrStdout(), proxy.ProxyURL(endpoint, target, codec.Issue(target)))
	return nil
}
