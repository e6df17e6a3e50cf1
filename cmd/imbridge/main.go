package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"imbridge/internal/app"
	"imbridge/internal/config"
	"imbridge/internal/feishu"
	"imbridge/internal/wecom"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "imbridge",
		Short:         "Feishu and WeCom channel gateway for a chat agent",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newSendCmd(&configPath))
	root.AddCommand(newProbeCmd(&configPath))
	return root
}

func loadConfig(configPath string) (config.Config, error) {
	if path, loaded, err := loadEnvFile(); err != nil {
		log.Printf("env file %s not loaded: %v", path, err)
	} else if loaded > 0 {
		log.Printf("loaded %d env vars from %s", loaded, path)
	}
	return config.Load(configPath)
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			srv, err := app.NewServer(cfg)
			if err != nil {
				return err
			}
			defer srv.Close()

			log.Printf("imbridge listening on %s", cfg.Addr())
			return http.ListenAndServe(cfg.Addr(), srv.Handler())
		},
	}
}

func newSendCmd(configPath *string) *cobra.Command {
	var channel, account, to string

	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send a text message through a configured channel account",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			msgText := strings.Join(args, " ")
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			switch channel {
			case "feishu":
				if cfg.Channels.Feishu == nil {
					return errors.New("channels.feishu is not configured")
				}
				resolved := feishu.ResolveAccount(cfg.Channels.Feishu, pickAccount(account, feishu.ResolveDefaultAccountID(cfg.Channels.Feishu)))
				result := feishu.SendText(ctx, feishu.NewClient(""), resolved, to, msgText)
				if result.Err != nil {
					return result.Err
				}
				fmt.Printf("sent message %s\n", result.MessageID)
			case "wecom":
				if cfg.Channels.WeCom == nil {
					return errors.New("channels.wecom is not configured")
				}
				resolved := wecom.ResolveAccount(cfg.Channels.WeCom, pickAccount(account, wecom.ResolveDefaultAccountID(cfg.Channels.WeCom)))
				result := wecom.SendText(ctx, wecom.NewClient(""), resolved, to, msgText)
				if result.Err != nil {
					return result.Err
				}
				fmt.Printf("sent message %s\n", result.MsgID)
			default:
				return fmt.Errorf("unknown channel %q (feishu, wecom)", channel)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "channel to send through (feishu, wecom)")
	cmd.Flags().StringVar(&account, "account", "", "account id (defaults to the channel's default account)")
	cmd.Flags().StringVar(&to, "to", "", "recipient id (open_id / chat id for feishu, user id for wecom)")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func pickAccount(requested, fallback string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return fallback
}

func newProbeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Validate the configured channel credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			timeout := cfg.Probe.Timeout.Std()
			failed := false

			if fc := cfg.Channels.Feishu; fc != nil {
				client := feishu.NewClient("")
				for _, account := range feishu.ListEnabledAccounts(fc) {
					result := feishu.Probe(cmd.Context(), client, account.Credentials, timeout)
					failed = printProbe("feishu", account.AccountID, result.OK, result.Error, result.Elapsed) || failed
				}
			}
			if wc := cfg.Channels.WeCom; wc != nil {
				client := wecom.NewClient("")
				for _, account := range wecom.ListEnabledAccounts(wc) {
					result := wecom.Probe(cmd.Context(), client, account.Credentials, timeout)
					failed = printProbe("wecom", account.AccountID, result.OK, result.Error, result.Elapsed) || failed
				}
			}
			if failed {
				return errors.New("one or more probes failed")
			}
			return nil
		},
	}
}

// printProbe reports one probe outcome and returns true when it failed.
func printProbe(channel, accountID string, ok bool, errMsg string, elapsed time.Duration) bool {
	if ok {
		fmt.Printf("%s/%s: ok (%s)\n", channel, accountID, elapsed.Round(time.Millisecond))
		return false
	}
	fmt.Printf("%s/%s: FAILED: %s\n", channel, accountID, errMsg)
	return true
}
