// Package auth collects backend credentials during onboarding.
package auth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// PasteAPIKey prompts for an Anthropic API key on r and returns it trimmed.
// Used by the onboarding wizard when the backend runs in api mode.
func PasteAPIKey(r io.Reader) (string, error) {
	fmt.Println("Paste your API key from console.anthropic.com:")
	fmt.Print("> ")

	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading key: %w", err)
		}
		return "", errors.New("no input received")
	}

	key := strings.TrimSpace(scanner.Text())
	if key == "" {
		return "", errors.New("key cannot be empty")
	}
	return key, nil
}
