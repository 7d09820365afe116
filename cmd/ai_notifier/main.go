package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFile      string
	logLevel     string
	servicesFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "ai_notifier",
		Short: "Notify when an AI chat answer finishes in a background browser tab",
		Long: "ai_notifier attaches to a Chromium instance over the DevTools protocol, watches\n" +
			"completion requests to Claude, ChatGPT and Gemini, and shows a notification when a\n" +
			"long answer finishes in a tab you are not looking at. Clicking it brings the tab back.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", "", "load settings from this .env file instead of ./.env")
	flags.StringVar(&opts.logLevel, "log-level", "", "override NOTIFIER_LOG_LEVEL (debug, info, warn, error)")
	flags.StringVar(&opts.servicesFile, "services-file", "", "override NOTIFIER_SERVICES_FILE")

	cmd.AddCommand(newServicesCmd(opts))
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
