package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelexchange/mxf/internal/bus"
	"github.com/modelexchange/mxf/internal/config"
	"github.com/modelexchange/mxf/internal/gateway"
	"github.com/modelexchange/mxf/pkg/models"
)

const defaultConfigPath = "mxf.yaml"

// provisionTimeout bounds channel:create and key:generate round trips.
const provisionTimeout = 30 * time.Second

func configPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("MXF_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mxf",
		Short:         "Model Exchange Framework agent runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildChannelCreateCmd())
	rootCmd.AddCommand(buildKeyGenerateCmd())
	rootCmd.AddCommand(buildSetupCmd())
	rootCmd.AddCommand(buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mxf %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func buildChannelCreateCmd() *cobra.Command {
	var gatewayURL, domainKey string
	cmd := &cobra.Command{
		Use:   "channel:create <name>",
		Short: "Create a channel on the exchange server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			data, err := adminRequest(cmd.Context(), gatewayURL, domainKey,
				models.EventChannelCreate, map[string]any{"name": name},
				models.EventChannelCreated, models.EventChannelCreationFailed)
			if err != nil {
				return err
			}
			channelID, _ := data["channelId"].(string)
			if channelID == "" {
				channelID = name
			}
			fmt.Printf("Channel created: %s\n", channelID)
			return nil
		},
	}
	cmd.Flags().StringVar(&gatewayURL, "gateway-url", os.Getenv("MXF_GATEWAY_URL"), "exchange server websocket URL")
	cmd.Flags().StringVar(&domainKey, "domain-key", os.Getenv("MXF_DOMAIN_KEY"), "domain key authorizing the operation")
	return cmd
}

func buildKeyGenerateCmd() *cobra.Command {
	var gatewayURL, domainKey, channelID, agentID string
	cmd := &cobra.Command{
		Use:   "key:generate",
		Short: "Issue an agent key pair for a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			if channelID == "" {
				return &models.ConfigError{Field: "channel", Reason: "required"}
			}
			if agentID == "" {
				return &models.ConfigError{Field: "agent", Reason: "required"}
			}
			data, err := adminRequest(cmd.Context(), gatewayURL, domainKey,
				models.EventKeyGenerate, map[string]any{"channelId": channelID, "agentId": agentID},
				models.EventKeyGenerated, models.EventKeyGenerationFailed)
			if err != nil {
				return err
			}
			keyID, _ := data["keyId"].(string)
			secretKey, _ := data["secretKey"].(string)
			keyVar, secretVar := config.CredentialEnv(channelID, agentID)
			fmt.Printf("%s=%s\n", keyVar, keyID)
			fmt.Printf("%s=%s\n", secretVar, secretKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&gatewayURL, "gateway-url", os.Getenv("MXF_GATEWAY_URL"), "exchange server websocket URL")
	cmd.Flags().StringVar(&domainKey, "domain-key", os.Getenv("MXF_DOMAIN_KEY"), "domain key authorizing the operation")
	cmd.Flags().StringVar(&channelID, "channel", "", "channel the key pair is scoped to")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent the key pair identifies")
	return cmd
}

// adminRequest opens a short-lived session authenticated by the domain
// key alone, sends one provisioning envelope, and waits for the
// server's verdict.
func adminRequest(ctx context.Context, gatewayURL, domainKey, reqEvent string, reqData map[string]any, okEvent, failEvent string) (map[string]any, error) {
	if gatewayURL == "" {
		return nil, &models.ConfigError{Field: "gateway-url", Reason: "required"}
	}
	if domainKey == "" {
		return nil, &models.ConfigError{Field: "domain-key", Reason: "required"}
	}

	ctx, cancel := context.WithTimeout(ctx, provisionTimeout)
	defer cancel()

	b := bus.New(slog.Default())
	success := make(chan *models.Envelope, 1)
	failure := make(chan *models.Envelope, 1)
	b.Subscribe(okEvent, nil, func(env *models.Envelope) {
		select {
		case success <- env:
		default:
		}
	})
	b.Subscribe(failEvent, nil, func(env *models.Envelope) {
		select {
		case failure <- env:
		default:
		}
	})

	client := gateway.NewClient(gateway.Config{
		URL:       gatewayURL,
		DomainKey: domainKey,
		KeyID:     "provisioning",
		SecretKey: domainKey,
		AgentID:   "provisioning",
		ChannelID: "provisioning",
	}, b, nil, slog.Default())
	defer client.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	env := models.NewCriticalEnvelope(reqEvent, "provisioning", "provisioning", reqData)
	if err := client.Send(ctx, env); err != nil {
		return nil, err
	}

	select {
	case env := <-success:
		return env.Data, nil
	case env := <-failure:
		reason, _ := env.Data["error"].(string)
		if reason == "" {
			reason = "request rejected"
		}
		return nil, fmt.Errorf("%s: %s", reqEvent, reason)
	case err := <-runErr:
		if err == nil {
			err = fmt.Errorf("session closed before the server answered: %w", models.ErrTransport)
		}
		return nil, err
	case <-ctx.Done():
		return nil, fmt.Errorf("no answer to %s: %w", reqEvent, models.ErrTimeout)
	}
}
