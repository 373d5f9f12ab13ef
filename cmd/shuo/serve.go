package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/NickTikhonov/shuo/internal/config"
	"github.com/NickTikhonov/shuo/internal/server"
	"github.com/NickTikhonov/shuo/internal/telemetry"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Answer calls routed to the TwiML endpoint",
		Long: `Start the HTTP server Twilio talks to.

Point the voice webhook of your Twilio number at {TWILIO_PUBLIC_URL}/twiml
and every call is connected to the agent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, nil)
		},
	}
}

// runServer serves until ctx is cancelled. ready runs once the listener is
// bound; its error stops the server.
func runServer(ctx context.Context, cfg *config.Config, ready func(context.Context) error) (err error) {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  server.ServiceName,
		Environment:  cfg.Telemetry.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		TraceStdout:  cfg.Telemetry.TraceStdout,
		Verbose:      verbose,
	})
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), server.ShutdownTimeout)
		defer cancel()
		err = errors.Join(err, shutdownTelemetry(flushCtx))
	}()
	if err != nil {
		return fmt.Errorf("failed to initialise telemetry: %w", err)
	}

	services := server.NewServices(ctx, cfg)
	defer func() {
		err = errors.Join(err, services.Close())
	}()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", cfg.Server.Port, err)
	}

	srv := server.New(cfg, services)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(listener) }()

	logger.Info("shuo ready",
		"port", cfg.Server.Port,
		"twiml", cfg.Twilio.PublicURL+"/twiml",
		"llm_model", cfg.LLM.Model,
		"voice", cfg.ElevenLabs.VoiceID,
	)

	if ready != nil {
		if err := ready(ctx); err != nil {
			return errors.Join(err, shutdown(ctx, srv, served))
		}
	}

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return shutdown(ctx, srv, served)
	}
}

func shutdown(ctx context.Context, srv *server.Server, served <-chan error) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), server.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	return errors.Join(err, <-served)
}
