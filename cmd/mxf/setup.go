package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/modelexchange/mxf/internal/config"
	"github.com/modelexchange/mxf/pkg/models"
)

func buildSetupCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "setup:interactive",
		Short: "Walk through creating an agent configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(output)
		},
	}
	cmd.Flags().StringVar(&output, "output", defaultConfigPath, "where to write the configuration")
	return cmd
}

func runSetup(output string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("mxf agent setup")
	fmt.Println()

	agentID := prompt(reader, "Agent id", "")
	if agentID == "" {
		return &models.ConfigError{Field: "agentId", Reason: "required"}
	}
	channelID := prompt(reader, "Channel id", "")
	if channelID == "" {
		return &models.ConfigError{Field: "channelId", Reason: "required"}
	}
	provider := prompt(reader, "LLM provider (anthropic/openai)", "anthropic")
	apiKey := promptSecret(reader, "Provider API key")
	gatewayURL := prompt(reader, "Gateway URL", "wss://exchange.local/ws")
	domainKey := promptSecret(reader, "Domain key")
	role := prompt(reader, "Role (autonomous/reactive/passive)", "autonomous")

	cfg := map[string]any{
		"agentId":     agentID,
		"channelId":   channelID,
		"llmProvider": provider,
		"apiKey":      apiKey,
		"role":        role,
		"gateway": map[string]any{
			"url":       gatewayURL,
			"domainKey": domainKey,
		},
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	keyVar, secretVar := config.CredentialEnv(channelID, agentID)
	fmt.Println()
	fmt.Printf("Wrote %s\n", output)
	fmt.Println("Next steps:")
	fmt.Printf("  mxf channel:create %s\n", channelID)
	fmt.Printf("  mxf key:generate --channel %s --agent %s\n", channelID, agentID)
	fmt.Printf("  export %s / %s with the issued credentials\n", keyVar, secretVar)
	fmt.Printf("  mxf serve --config %s\n", output)
	return nil
}

func prompt(reader *bufio.Reader, label, fallback string) string {
	if fallback != "" {
		fmt.Printf("%s [%s]: ", label, fallback)
	} else {
		fmt.Printf("%s: ", label)
	}
	text, err := reader.ReadString('\n')
	if err != nil {
		return fallback
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback
	}
	return text
}

// promptSecret reads without echo when attached to a terminal.
func promptSecret(reader *bufio.Reader, label string) string {
	fmt.Printf("%s: ", label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		text, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(text))
		}
	}
	text, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}
