package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	envURL   = "AERO_CHAT_RELAY_URL"
	envToken = "AERO_CHAT_RELAY_TOKEN"

	defaultURL = "http://127.0.0.1:8090"
)

type rootOptions struct {
	url     string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "aero-chat-relayctl",
		Short:         "Inspect a running aero-chat-relay",
		Long:          "aero-chat-relayctl queries the health, build, ICE, metrics and call history endpoints of an aero-chat-relay instance.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&opts.url, "url", envOr(envURL, defaultURL), "relay base URL (env "+envURL+")")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "per-request timeout")

	rootCmd.AddCommand(
		newHealthCmd(opts),
		newVersionCmd(opts),
		newICECmd(opts),
		newStatsCmd(opts),
		newHistoryCmd(opts),
	)

	return rootCmd
}

func (o *rootOptions) client() *relayClient {
	return newRelayClient(o.url, o.timeout)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
