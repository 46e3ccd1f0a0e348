// wabridge - WhatsApp-to-Claude bridge daemon
// License: MIT
//
// Copyright (c) 2026 wabridge contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/wabridge/cmd/wabridge/internal"
	"github.com/tinyland-inc/wabridge/cmd/wabridge/internal/gateway"
	"github.com/tinyland-inc/wabridge/cmd/wabridge/internal/onboard"
	"github.com/tinyland-inc/wabridge/cmd/wabridge/internal/status"
	"github.com/tinyland-inc/wabridge/cmd/wabridge/internal/version"
)

func NewWabridgeCommand() *cobra.Command {
	short := fmt.Sprintf("%s wabridge - WhatsApp bridge for Claude v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "wabridge",
		Short:   short,
		Example: "wabridge gateway",
	}

	cmd.AddCommand(
		onboard.NewOnboardCommand(),
		gateway.NewGatewayCommand(),
		status.NewStatusCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewWabridgeCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
