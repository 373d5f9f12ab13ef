package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/NickTikhonov/shuo/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfg     *config.Config
	envFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shuo",
		Short: "shuo - a voice agent for phone calls",
		Long: `shuo answers and places phone calls through Twilio and talks to the
caller with Deepgram Flux turn detection, a Groq hosted LLM and ElevenLabs
speech. The caller can interrupt the agent at any time.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			var err error
			cfg, err = config.Load(files...)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load instead of .env")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug messages")

	rootCmd.AddCommand(
		serveCmd(),
		callCmd(),
		configCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// configCmd shows the resolved configuration with secrets masked.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Current configuration:")
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Server:")
			fmt.Fprintf(out, "  Port:         %d\n", cfg.Server.Port)
			fmt.Fprintf(out, "  Trace Dir:    %s\n", cfg.Call.TraceDir)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Twilio:")
			fmt.Fprintf(out, "  Public URL:   %s\n", cfg.Twilio.PublicURL)
			fmt.Fprintf(out, "  Account SID:  %s\n", config.MaskSecret(cfg.Twilio.AccountSID))
			fmt.Fprintf(out, "  Auth Token:   %s\n", config.MaskSecret(cfg.Twilio.AuthToken))
			fmt.Fprintf(out, "  Phone Number: %s\n", cfg.Twilio.PhoneNumber)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Deepgram:")
			fmt.Fprintf(out, "  Model:        %s\n", cfg.Deepgram.Model)
			fmt.Fprintf(out, "  API Key:      %s\n", config.MaskSecret(cfg.Deepgram.APIKey))
			fmt.Fprintln(out)

			fmt.Fprintln(out, "ElevenLabs:")
			fmt.Fprintf(out, "  Voice:        %s\n", cfg.ElevenLabs.VoiceID)
			fmt.Fprintf(out, "  Model:        %s\n", cfg.ElevenLabs.ModelID)
			fmt.Fprintf(out, "  API Key:      %s\n", config.MaskSecret(cfg.ElevenLabs.APIKey))
			fmt.Fprintf(out, "  Pool:         %d idle, %d max, %s ttl\n", cfg.Pool.TargetIdle, cfg.Pool.MaxOutstanding, cfg.Pool.TTL)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "LLM:")
			fmt.Fprintf(out, "  URL:          %s\n", cfg.LLM.BaseURL)
			fmt.Fprintf(out, "  Model:        %s\n", cfg.LLM.Model)
			fmt.Fprintf(out, "  Max Tokens:   %d\n", cfg.LLM.MaxTokens)
			fmt.Fprintf(out, "  Temperature:  %.2f\n", cfg.LLM.Temperature)
			fmt.Fprintf(out, "  API Key:      %s\n", config.MaskSecret(cfg.LLM.APIKey))
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Call:")
			fmt.Fprintf(out, "  Max Duration: %s\n", cfg.Call.MaxDuration)
			fmt.Fprintf(out, "  Record:       %t\n", cfg.Call.Record)
			fmt.Fprintf(out, "  First Message: %q\n", cfg.Call.FirstMessage)

			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(out)
				fmt.Fprintf(out, "Problems:\n  %s\n", err)
			}
			return nil
		},
	}
}
