package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/saare1/aisales/internal/compliance"
	"github.com/saare1/aisales/internal/config"
	"github.com/saare1/aisales/internal/provider"
	"github.com/saare1/aisales/internal/scheduler"
	"github.com/saare1/aisales/internal/sentiment"
	"github.com/saare1/aisales/internal/store"

	"github.com/spf13/cobra"
)

// checkResult counts doctor outcomes.
type checkResult struct{ passed, warned, failed int }

func (r *checkResult) pass(check, detail string) { printPass(check, detail); r.passed++ }
func (r *checkResult) warn(check, detail string) { printWarn(check, detail); r.warned++ }
func (r *checkResult) fail(check, detail string) { printFail(check, detail); r.failed++ }

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, storage, providers and channels",
		Long:  "Runs diagnostic checks against the config file, the record store, the generation providers and the configured channels.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("salesbot doctor")
			fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			var r checkResult

			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
					r.warn("Config file", fmt.Sprintf("%s not found, using defaults (run 'salesbot init')", cfgPath))
				} else {
					r.fail("Config file", err.Error())
				}
				cfg = config.Defaults()
			} else {
				r.pass("Config file", cfgPath)
			}

			dbPath := config.ExpandPath(cfg.Store.DBPath)
			if v, err := checkDatabase(dbPath); err != nil {
				r.fail("Record store", err.Error())
			} else {
				r.pass("Record store", fmt.Sprintf("%s (schema v%d)", dbPath, v))
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			factory := provider.NewFactory(cfg, logger)
			usable := 0
			for name, pc := range cfg.Providers {
				if !pc.Enabled {
					continue
				}
				p, err := factory.Get(name)
				if err != nil {
					r.fail("Provider "+name, err.Error())
					continue
				}
				if err := p.Healthy(ctx); err != nil {
					r.warn("Provider "+name, fmt.Sprintf("unreachable: %v", err))
					continue
				}
				r.pass("Provider "+name, "healthy")
				usable++
			}
			if usable == 0 {
				r.warn("Generation", "no healthy provider, replies will use fallback text")
			}

			if gate, err := compliance.NewGateFromConfig(cfg.Compliance.PatternsFile); err != nil {
				r.fail("Compliance rules", err.Error())
			} else {
				src := "built-in"
				if cfg.Compliance.PatternsFile != "" {
					src = cfg.Compliance.PatternsFile
				}
				r.pass("Compliance rules", fmt.Sprintf("%s, %d categories", src, len(gate.Categories())))
			}

			switch name := sentiment.New(cfg.Agent.SentimentAnalyzer, logger).Name(); {
			case cfg.Agent.SentimentAnalyzer == sentiment.AnalyzerKeyword || name == sentiment.AnalyzerVader:
				r.pass("Sentiment analyzer", name)
			default:
				r.warn("Sentiment analyzer", "vader lexicon unavailable, keyword scorer will be used")
			}

			if cfg.Scheduler.Enabled {
				for name, spec := range map[string]string{"Followup schedule": cfg.Scheduler.FollowupSpec, "Drain schedule": cfg.Scheduler.DrainSpec} {
					if spec == "" {
						r.warn(name, "disabled")
					} else if _, err := scheduler.Parser.Parse(spec); err != nil {
						r.fail(name, err.Error())
					} else {
						r.pass(name, spec)
					}
				}
			}

			ch := cfg.Channels
			if ch.Email.Enabled {
				if err := checkDial(ch.Email.Host, ch.Email.Port); err != nil {
					r.warn("SMTP server", err.Error())
				} else {
					r.pass("SMTP server", net.JoinHostPort(ch.Email.Host, strconv.Itoa(ch.Email.Port)))
				}
			} else {
				r.warn("Email channel", "disabled, email leads and fallbacks cannot be delivered")
			}
			for name, enabled := range map[string]bool{
				"Telegram": ch.Telegram.Enabled && ch.Telegram.Token == "",
				"Discord":  ch.Discord.Enabled && ch.Discord.Token == "",
				"Slack":    ch.Slack.Enabled && ch.Slack.BotToken == "",
				"WhatsApp": ch.WhatsApp.Enabled && ch.WhatsApp.AccessToken == "",
			} {
				if enabled {
					r.fail(name+" channel", "enabled without credentials")
				}
			}
			if ch.WebChat.Enabled {
				if err := checkPort(ch.WebChat.Port); err != nil {
					r.warn("WebChat port", fmt.Sprintf("port %d may be in use: %v", ch.WebChat.Port, err))
				} else {
					r.pass("WebChat port", fmt.Sprintf(":%d available", ch.WebChat.Port))
				}
			}
			if ch.Webhook.Enabled {
				if err := checkPort(ch.Webhook.Port); err != nil {
					r.warn("Webhook port", fmt.Sprintf("port %d may be in use: %v", ch.Webhook.Port, err))
				} else {
					r.pass("Webhook port", fmt.Sprintf(":%d available", ch.Webhook.Port))
				}
				if ch.Webhook.Secret == "" {
					r.warn("Webhook secret", "empty, inbound posts are not signature-checked")
				}
			} else if cfg.Metrics.Enabled || ch.WhatsApp.Enabled {
				r.warn("Webhook server", "metrics and WhatsApp callbacks need channels.webhook.enabled")
			}
			if cfg.Notify.SlackChannel != "" && ch.Slack.BotToken == "" {
				r.warn("Slack escalations", "notify.slackChannel set without channels.slack.botToken")
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running salesbot.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			if r.warned > 0 {
				fmt.Printf("\nsalesbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! salesbot is ready to run.\n")
			}
			return nil
		},
	}
}

// checkDatabase opens the store, which applies pending migrations, and
// reports the schema version.
func checkDatabase(dbPath string) (int, error) {
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.DB().PingContext(ctx); err != nil {
		return 0, fmt.Errorf("cannot ping: %w", err)
	}
	return store.GetSchemaVersion(st.DB())
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func checkDial(host string, port int) error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 5*time.Second)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
