package onboard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/tinyland-inc/wabridge/cmd/wabridge/internal"
	"github.com/tinyland-inc/wabridge/pkg/auth"
	"github.com/tinyland-inc/wabridge/pkg/authz"
	"github.com/tinyland-inc/wabridge/pkg/config"
)

func NewOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-time setup",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return onboardCmd()
		},
	}
}

func onboardCmd() error {
	configPath := internal.GetConfigPath()
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s, values shown become the new defaults.\n\n", configPath)
	}

	rl, err := readline.New("> ")
	if err != nil {
		return fmt.Errorf("error starting prompt: %w", err)
	}
	defer rl.Close()

	cfg := config.DefaultConfig()
	fmt.Printf("%s wabridge setup\n\n", internal.Logo)

	mode := ask(rl, fmt.Sprintf("Backend mode, cli or api [%s]:", cfg.Backend.Mode), cfg.Backend.Mode)
	cfg.Backend.Mode = mode

	switch mode {
	case "cli":
		cfg.Backend.Binary = ask(rl, fmt.Sprintf("Backend binary [%s]:", cfg.Backend.Binary), cfg.Backend.Binary)
	case "api":
		key, err := auth.PasteAPIKey(os.Stdin)
		if err != nil {
			return fmt.Errorf("error reading API key: %w", err)
		}
		cfg.Backend.APIKey = key
	default:
		return fmt.Errorf("backend mode must be \"cli\" or \"api\", got %q", mode)
	}
	cfg.Backend.Model = ask(rl, fmt.Sprintf("Model [%s]:", cfg.Backend.Model), cfg.Backend.Model)
	cfg.Bridge.RelayURL = ask(rl, fmt.Sprintf("Session relay URL [%s]:", cfg.Bridge.RelayURL), cfg.Bridge.RelayURL)

	fmt.Println("\nRegister the first user (phone number without the + prefix).")
	externalID := ask(rl, "Phone number:", "")
	if externalID != "" {
		userID := ask(rl, "User id:", "u-"+externalID)
		project := ask(rl, "Project context:", "default project")
		if err := writeRegistry(cfg.Authz.RegistryPath, externalID, authz.Grant{
			UserID:         userID,
			ProjectContext: project,
		}); err != nil {
			return fmt.Errorf("error writing user registry: %w", err)
		}
		fmt.Printf("✓ Registered %s in %s\n", externalID, cfg.Authz.RegistryPath)
	}

	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}
	fmt.Printf("✓ Config written to %s\n", configPath)
	fmt.Println("\nNext: run `wabridge gateway` and scan the pairing code.")
	return nil
}

func ask(rl *readline.Instance, prompt, def string) string {
	fmt.Println(prompt)
	line, err := rl.Readline()
	if err != nil {
		return def
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

// writeRegistry merges one grant into the registry file, creating it if
// needed.
func writeRegistry(path, externalID string, grant authz.Grant) error {
	grants := map[string]authz.Grant{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &grants); err != nil {
			return fmt.Errorf("parse existing registry %s: %w", path, err)
		}
	}
	grants[externalID] = grant

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(grants, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
