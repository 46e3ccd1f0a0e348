package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinyland-inc/wabridge/cmd/wabridge/internal"
	"github.com/tinyland-inc/wabridge/pkg/authz"
	"github.com/tinyland-inc/wabridge/pkg/bus"
	"github.com/tinyland-inc/wabridge/pkg/config"
	"github.com/tinyland-inc/wabridge/pkg/dispatch"
	"github.com/tinyland-inc/wabridge/pkg/logger"
	anthropicprovider "github.com/tinyland-inc/wabridge/pkg/providers/anthropic"
	"github.com/tinyland-inc/wabridge/pkg/router"
	"github.com/tinyland-inc/wabridge/pkg/sched"
	"github.com/tinyland-inc/wabridge/pkg/session"
	"github.com/tinyland-inc/wabridge/pkg/statusapi"
	"github.com/tinyland-inc/wabridge/pkg/toolconfig"
	"github.com/tinyland-inc/wabridge/pkg/transport/wsrelay"
)

// bridgeDispatcher is what the gateway needs from either backend mode.
type bridgeDispatcher interface {
	dispatch.Dispatcher
	ActiveDispatches() []dispatch.Active
}

func buildDispatcher(cfg config.BackendConfig) bridgeDispatcher {
	if cfg.Mode == "api" {
		provider := anthropicprovider.NewProviderWithBaseURL(cfg.APIKey, cfg.APIBase)
		return dispatch.NewAPIDispatcher(provider, cfg)
	}
	return dispatch.NewCLIDispatcher(cfg)
}

func gatewayCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	store, err := authz.NewFileStore(cfg.Authz.RegistryPath)
	if err != nil {
		return fmt.Errorf("error loading user registry: %w", err)
	}
	fmt.Printf("✓ User registry loaded (%d users)\n", store.Count())

	dispatcher := buildDispatcher(cfg.Backend)
	fmt.Printf("✓ Backend ready (mode: %s, model: %s)\n", cfg.Backend.Mode, cfg.Backend.Model)

	msgBus := bus.NewMessageBus()
	transport := wsrelay.NewClient(cfg.Bridge)
	supervisor := session.NewSupervisor(transport, msgBus)
	tools := toolconfig.NewMCPFileGenerator(cfg.Tools)
	msgRouter := router.New(msgBus, store, dispatcher, tools, supervisor)

	scheduler, err := sched.NewScheduler(cfg.Schedule, dispatcher, msgBus)
	if err != nil {
		return fmt.Errorf("error building scheduler: %w", err)
	}

	statusServer := statusapi.NewServer(cfg.Gateway, supervisor, dispatcher, internal.FormatVersion())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := supervisor.Initialize(ctx); err != nil {
		return fmt.Errorf("error initializing session: %w", err)
	}
	go watchPairing(ctx, supervisor)
	go msgRouter.Run(ctx)
	go deliverOutbound(ctx, msgBus, supervisor)
	go scheduler.Run(ctx)
	go func() {
		if err := statusServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("gateway", "Status API error", map[string]any{"error": err.Error()})
		}
	}()

	fmt.Printf("✓ Gateway started, status API on http://%s:%d/status\n", cfg.Gateway.Host, cfg.Gateway.Port)
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	statusServer.Shutdown(shutdownCtx)
	msgRouter.Wait()
	msgBus.Close()
	fmt.Println("✓ Gateway stopped")

	return nil
}

// watchPairing prints the pairing payload whenever a fresh one appears so the
// operator can link the device from the terminal.
func watchPairing(ctx context.Context, supervisor *session.Supervisor) {
	var lastQR string
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := supervisor.GetStatus()
			if st.QRCode != "" && st.QRCode != lastQR {
				lastQR = st.QRCode
				fmt.Println("\n📱 Link this device: open the app, add a linked device, and scan:")
				fmt.Println(st.QRCode)
			}
			if st.Connected && lastQR != "" {
				lastQR = ""
				fmt.Printf("✓ Paired as %s\n", st.PhoneNumber)
			}
		}
	}
}

// deliverOutbound drains the outbound queue into the live session.
func deliverOutbound(ctx context.Context, msgBus *bus.MessageBus, supervisor *session.Supervisor) {
	for {
		msg, ok := msgBus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if err := supervisor.SendText(ctx, msg.Address, msg.Text); err != nil {
			logger.ErrorCF("gateway", "Failed to deliver reply", map[string]any{
				"address": msg.Address,
				"error":   err.Error(),
			})
		}
	}
}
