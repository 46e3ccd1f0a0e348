package status

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/wabridge/cmd/wabridge/internal"
	"github.com/tinyland-inc/wabridge/pkg/statusapi"
)

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show bridge session and dispatch status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return statusCmd(asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status JSON")

	return cmd
}

func statusCmd(asJSON bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s:%d/status", cfg.Gateway.Host, cfg.Gateway.Port)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("gateway not reachable at %s (is it running?): %w", url, err)
	}
	defer resp.Body.Close()

	var snap statusapi.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("error decoding status: %w", err)
	}

	if asJSON {
		out, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("%s wabridge %s\n\n", internal.Logo, snap.Version)
	fmt.Printf("Session:   %s\n", snap.Session.State)
	if snap.Session.Connected {
		fmt.Printf("Number:    %s\n", snap.Session.PhoneNumber)
	}
	if snap.Session.QRCode != "" {
		fmt.Println("Pairing:   awaiting scan (run `wabridge gateway` to see the code)")
	}
	fmt.Printf("Dispatches: %d in flight\n", len(snap.Dispatches))
	for _, d := range snap.Dispatches {
		fmt.Printf("  • %s (running %s)\n", d.Question, time.Since(d.StartedAt).Round(time.Second))
	}
	return nil
}
