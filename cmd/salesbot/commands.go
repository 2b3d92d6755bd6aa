package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/saare1/aisales/internal/agent"
	"github.com/saare1/aisales/internal/domain"
	"github.com/saare1/aisales/internal/sentiment"

	"github.com/spf13/cobra"
)

// withApp loads config, assembles the pipeline and runs fn with a context
// cancelled on Ctrl+C.
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := signalContext()
	defer cancel()
	return fn(ctx, a)
}

func parseLeadID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid lead id %q", s)
	}
	return id, nil
}

func leadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lead",
		Short: "Create and inspect leads",
	}

	var l domain.Lead
	var channel, temperature string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a lead",
		RunE: func(cmd *cobra.Command, args []string) error {
			l.PreferredChannel = domain.ChannelKind(channel)
			l.Temperature = domain.Temperature(temperature)
			return withApp(func(ctx context.Context, a *app) error {
				if _, err := a.store.CreateLead(ctx, &l); err != nil {
					return err
				}
				return printJSON(l)
			})
		},
	}
	f := add.Flags()
	f.StringVar(&l.FirstName, "first", "", "first name")
	f.StringVar(&l.LastName, "last", "", "last name")
	f.StringVar(&l.Email, "email", "", "email address")
	f.StringVar(&l.Phone, "phone", "", "phone number")
	f.StringVar(&l.Company, "company", "", "company")
	f.StringVar(&l.JobTitle, "title", "", "job title")
	f.StringVar(&l.Source, "source", "", "lead source, e.g. website")
	f.StringVar(&l.Needs, "needs", "", "what the lead is looking for")
	f.StringVar(&l.Budget, "budget", "", "stated budget")
	f.StringVar(&l.ExternalID, "external-id", "", "chat address on the preferred channel")
	f.StringVar(&channel, "channel", "email", "preferred channel")
	f.StringVar(&temperature, "temperature", "", "hot, warm or cold")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "show [id]",
		Short: "Show a lead with its recent conversation and schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLeadID(args[0])
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				lead, err := a.store.GetLead(ctx, id)
				if err != nil {
					return err
				}
				if lead == nil {
					return fmt.Errorf("lead %d: %w", id, domain.ErrLeadNotFound)
				}
				history, err := a.store.History(ctx, id, a.cfg.Agent.HistoryWindow)
				if err != nil {
					return err
				}
				meetings, err := a.store.Meetings(ctx, id)
				if err != nil {
					return err
				}
				recs, err := a.store.Recommendations(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"lead":            lead,
					"history":         history,
					"meetings":        meetings,
					"recommendations": recs,
				})
			})
		},
	})

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recently updated leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				leads, err := a.store.ListLeads(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(leads)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum leads to list")
	cmd.AddCommand(list)

	return cmd
}

func productCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage the product catalogue used for recommendations",
	}

	var p domain.Product
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a product",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(p.Name) == "" {
				return fmt.Errorf("--name is required")
			}
			p.Active = true
			return withApp(func(ctx context.Context, a *app) error {
				id, err := a.store.CreateProduct(ctx, p)
				if err != nil {
					return err
				}
				p.ID = id
				return printJSON(p)
			})
		},
	}
	f := add.Flags()
	f.StringVar(&p.Name, "name", "", "product name")
	f.StringVar(&p.Description, "description", "", "description")
	f.StringVar(&p.Category, "category", "", "category")
	f.Float64Var(&p.Price, "price", 0, "price")
	f.StringVar(&p.Features, "features", "", "comma separated features")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active products",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				products, err := a.store.Products(ctx, true)
				if err != nil {
					return err
				}
				return printJSON(products)
			})
		},
	})
	return cmd
}

func enqueueCmd() *cobra.Command {
	var msg domain.InboundMessage
	var leadID int64
	var channel string
	var noDrain bool
	cmd := &cobra.Command{
		Use:   "enqueue [content]",
		Short: "Accept one lead message, rank it and answer it",
		Long:  "Resolves the lead, scores and ranks the message, queues it and then drains the queue unless --no-drain is set.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg.LeadID = leadID
			msg.Channel = domain.ChannelKind(channel)
			msg.Content = strings.Join(args, " ")
			return withApp(func(ctx context.Context, a *app) error {
				accepted, err := a.intake.Accept(ctx, msg)
				if err != nil {
					return err
				}
				if noDrain {
					return printJSON(accepted)
				}
				rep, err := a.orch.Drain(ctx, 1)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"message": accepted, "drain": rep})
			})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&leadID, "lead", 0, "lead id")
	f.StringVar(&msg.LeadEmail, "email", "", "lead email, used when --lead is not set")
	f.StringVar(&msg.SenderID, "sender", "", "channel-native sender address")
	f.StringVar(&msg.SenderName, "name", "", "sender display name")
	f.StringVar(&channel, "channel", "email", "channel the message arrived on")
	f.BoolVar(&noDrain, "no-drain", false, "only rank and queue the message")
	return cmd
}

func drainCmd() *cobra.Command {
	var file string
	var max int
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Queue a batch of messages from a JSON file and answer them in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var batch []domain.InboundMessage
			if err := json.Unmarshal(data, &batch); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			return withApp(func(ctx context.Context, a *app) error {
				for i, m := range batch {
					if _, err := a.intake.Accept(ctx, m); err != nil {
						logger.Warn("message rejected", "index", i, "err", err)
					}
				}
				if max <= 0 {
					max = len(batch)
				}
				rep, err := a.orch.Drain(ctx, max)
				if err != nil {
					return err
				}
				return printJSON(rep)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON array of inbound messages")
	cmd.Flags().IntVar(&max, "max", 0, "maximum messages to process (default: all)")
	cmd.MarkFlagRequired("file")
	return cmd
}

// entryCmd builds the single-lead entry point commands.
func entryCmd(use, short string, run func(o *agent.Orchestrator, ctx context.Context, id int64) (*agent.Result, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [lead-id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLeadID(args[0])
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				res, err := run(a.orch, ctx, id)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func greetCmd() *cobra.Command {
	return entryCmd("greet", "Send the first greeting to a new lead", (*agent.Orchestrator).Greet)
}

func followupCmd() *cobra.Command {
	return entryCmd("followup", "Follow up with a lead who has gone quiet", (*agent.Orchestrator).FollowUp)
}

func closeCmd() *cobra.Command {
	return entryCmd("close", "Attempt to close the deal with a lead", (*agent.Orchestrator).Close)
}

func objectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "objection [lead-id] [type] [content]",
		Short: "Answer a lead's objection (price, timing, competitor, ...)",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLeadID(args[0])
			if err != nil {
				return err
			}
			content := strings.Join(args[2:], " ")
			return withApp(func(ctx context.Context, a *app) error {
				res, err := a.orch.HandleObjection(ctx, id, args[1], content)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Send every scheduled followup that is due now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				runs, err := a.scheduler.ExecuteDue(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(runs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum followups to send")
	return cmd
}

func notificationsCmd() *cobra.Command {
	var unread bool
	var limit int
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "List human escalations and compliance alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				ns, err := a.store.Notifications(ctx, unread, limit)
				if err != nil {
					return err
				}
				return printJSON(ns)
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread notifications")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum notifications to list")

	cmd.AddCommand(&cobra.Command{
		Use:   "read [id]",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid notification id %q", args[0])
			}
			return withApp(func(ctx context.Context, a *app) error {
				return a.store.MarkNotificationRead(ctx, id)
			})
		},
	})
	return cmd
}

func trendCmd() *cobra.Command {
	var days, limit int
	cmd := &cobra.Command{
		Use:   "trend [lead-id]",
		Short: "Show a lead's sentiment history and trend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseLeadID(args[0])
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				tracker := sentiment.NewTracker(a.store)
				if days <= 0 {
					days = a.cfg.Agent.SentimentWindowDays
				}
				trend, err := tracker.Trend(ctx, id, days)
				if err != nil {
					return err
				}
				history, err := tracker.History(ctx, id, limit)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"trend": trend, "history": history})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "trend window in days (default: agent.sentimentWindowDays)")
	cmd.Flags().IntVar(&limit, "limit", 5, "scored messages to list")
	return cmd
}

func auditCmd() *cobra.Command {
	var leadID int64
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List compliance audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				entries, err := a.store.AuditLog(ctx, leadID, limit)
				if err != nil {
					return err
				}
				return printJSON(entries)
			})
		},
	}
	cmd.Flags().Int64Var(&leadID, "lead", 0, "only entries for this lead")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum entries")
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
