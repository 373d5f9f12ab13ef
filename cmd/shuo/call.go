package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/NickTikhonov/shuo/core/telephony/twilio"
	"github.com/NickTikhonov/shuo/internal/metrics"
	"github.com/spf13/cobra"
)

func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <+E164 number>",
		Short: "Place an outbound call and talk to whoever answers",
		Long: `Start the server, place a call to the given number and keep serving
until interrupted. The number must be in E.164 format, e.g. +14155550100.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := strings.TrimSpace(args[0])
			if !strings.HasPrefix(to, "+") {
				return fmt.Errorf("phone number must be in E.164 format (start with +), got %q", to)
			}
			if err := cfg.ValidateOutbound(); err != nil {
				return err
			}

			return runServer(cmd.Context(), cfg, func(ctx context.Context) error {
				return placeCall(ctx, to)
			})
		},
	}
}

func placeCall(ctx context.Context, to string) error {
	client := twilio.NewClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)

	logger.Info("calling", "to", to)
	call, err := client.CreateCall(ctx, twilio.CallRequest{
		To:       to,
		From:     cfg.Twilio.PhoneNumber,
		TwiMLURL: cfg.Twilio.PublicURL + "/twiml",
		Record:   cfg.Call.Record,
	})
	if err != nil {
		metrics.OutboundCallsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to place call: %w", err)
	}
	metrics.OutboundCallsTotal.WithLabelValues(call.Status).Inc()

	logger.Info("call initiated, press Ctrl+C to end", "call_sid", call.SID, "status", call.Status)
	return nil
}
