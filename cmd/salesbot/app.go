package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/saare1/aisales/internal/action"
	"github.com/saare1/aisales/internal/agent"
	"github.com/saare1/aisales/internal/bus"
	"github.com/saare1/aisales/internal/channel"
	"github.com/saare1/aisales/internal/compliance"
	"github.com/saare1/aisales/internal/config"
	"github.com/saare1/aisales/internal/domain"
	"github.com/saare1/aisales/internal/metrics"
	"github.com/saare1/aisales/internal/notify"
	"github.com/saare1/aisales/internal/provider"
	"github.com/saare1/aisales/internal/queue"
	"github.com/saare1/aisales/internal/recommend"
	"github.com/saare1/aisales/internal/scheduler"
	"github.com/saare1/aisales/internal/sentiment"
	"github.com/saare1/aisales/internal/store"
)

// app is the assembled pipeline shared by serve and the one-shot commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *store.SQLiteStore
	events     *bus.EventBus
	inbound    *bus.InMemoryBus
	collector  *metrics.Registry
	dispatcher *channel.Dispatcher
	scheduler  *scheduler.Service
	orch       *agent.Orchestrator
	intake     *agent.Intake
	worker     *agent.Worker

	telegram *channel.Telegram
	discord  *channel.Discord
	slack    *channel.Slack
	webchat  *channel.WebChat
	whatsapp *channel.WhatsApp
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.NewSQLiteStore(config.ExpandPath(cfg.Store.DBPath), logger)
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		events:    bus.NewEventBus(logger),
		inbound:   bus.New(100, logger),
		collector: metrics.NewRegistry(),
	}
	metrics.NewSales(a.collector).Attach(a.events)

	gate, err := compliance.NewGateFromConfig(cfg.Compliance.PatternsFile)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("compliance patterns: %w", err)
	}
	scorer := sentiment.New(cfg.Agent.SentimentAnalyzer, logger)

	var oracle domain.Provider
	factory := provider.NewFactory(cfg, logger)
	if p, err := factory.Oracle(); err != nil {
		logger.Warn("no generation provider, replies will use fallback text", "err", err)
	} else {
		oracle = p
	}
	model := cfg.Providers[cfg.General.DefaultProvider].DefaultModel

	a.dispatcher = channel.NewDispatcher(channel.DispatcherConfig{
		Senders:       a.senders(),
		RatePerSecond: cfg.Channels.SendRatePerSecond,
		Burst:         cfg.Channels.SendBurst,
		Logger:        logger.With("component", "dispatcher"),
	})

	a.scheduler = scheduler.New(scheduler.Config{
		Store:       st,
		Deliverer:   a.dispatcher,
		Events:      a.events,
		MeetingLink: cfg.Scheduler.MeetingLink,
		AgentName:   cfg.Agent.AgentName,
		CompanyName: cfg.Agent.CompanyName,
		Logger:      logger.With("component", "scheduler"),
	})

	recommender := recommend.New(recommend.Config{
		Store:  st,
		Oracle: oracle,
		Model:  model,
		Logger: logger.With("component", "recommend"),
	})

	nc := notify.Config{
		Store:        st,
		SlackChannel: cfg.Notify.SlackChannel,
		Logger:       logger.With("component", "notify"),
	}
	if a.slack != nil {
		nc.Poster = a.slack
	}
	notifier := notify.New(nc)

	q := queue.New()
	executor := action.NewExecutor(action.ExecutorConfig{
		Store:              st,
		Queue:              q,
		Scheduler:          a.scheduler,
		Recommender:        recommender,
		Notifier:           notifier,
		MaxRecommendations: cfg.Agent.MaxRecommendations,
		Logger:             logger.With("component", "actions"),
	})

	a.orch = agent.NewOrchestrator(agent.Config{
		Store:          st,
		Oracle:         oracle,
		Model:          model,
		Gate:           gate,
		Scorer:         scorer,
		Executor:       executor,
		Deliverer:      a.dispatcher,
		Notifier:       notifier,
		Queue:          q,
		Events:         a.events,
		Agent:          cfg.Agent,
		ScreenOutbound: cfg.Compliance.ScreenOutbound,
		Logger:         logger.With("component", "orchestrator"),
	})

	workers := cfg.Queue.Workers
	if m := cfg.General.MaxConcurrentLeads; m > 0 && m < workers {
		workers = m
	}
	a.worker = agent.NewWorker(agent.WorkerConfig{
		Orchestrator: a.orch,
		Workers:      workers,
		Logger:       logger.With("component", "worker"),
	})
	a.intake = agent.NewIntake(agent.IntakeConfig{
		Bus:      a.inbound,
		Store:    st,
		Queue:    q,
		Scorer:   scorer,
		Events:   a.events,
		WarnSize: cfg.Queue.WarnSize,
		Wake:     a.worker.Wake,
		Logger:   logger.With("component", "intake"),
	})
	return a, nil
}

// senders builds one outbound sender per enabled channel. Chat transports
// double as intake and are kept on the app for serve.
func (a *app) senders() []domain.Sender {
	ch := a.cfg.Channels
	lg := a.logger
	var out []domain.Sender

	if ch.Email.Enabled {
		out = append(out, channel.NewEmail(channel.EmailConfig{
			Host:     ch.Email.Host,
			Port:     ch.Email.Port,
			Username: ch.Email.Username,
			Password: ch.Email.Password,
			From:     ch.Email.From,
			Logger:   lg.With("channel", "email"),
		}))
	}
	if ch.SMS.Enabled {
		out = append(out, channel.NewSMS(channel.SMSConfig{
			GatewayURL: ch.SMS.GatewayURL,
			APIKey:     ch.SMS.APIKey,
			From:       ch.SMS.From,
			Logger:     lg.With("channel", "sms"),
		}))
	}
	if ch.Telegram.Enabled && ch.Telegram.Token != "" {
		a.telegram = channel.NewTelegram(channel.TelegramConfig{
			Token:     ch.Telegram.Token,
			AllowFrom: ch.Telegram.AllowFrom,
			ParseMode: ch.Telegram.ParseMode,
			Logger:    lg.With("channel", "telegram"),
		})
		out = append(out, a.telegram)
	}
	if ch.Discord.Enabled && ch.Discord.Token != "" {
		a.discord = channel.NewDiscord(channel.DiscordConfig{
			Token:   ch.Discord.Token,
			GuildID: ch.Discord.GuildID,
			Logger:  lg.With("channel", "discord"),
		})
		out = append(out, a.discord)
	}
	// The Slack client also carries escalation posts, so it is built whenever
	// a bot token exists even if Slack intake is off.
	if ch.Slack.BotToken != "" {
		a.slack = channel.NewSlack(channel.SlackConfig{
			BotToken: ch.Slack.BotToken,
			AppToken: ch.Slack.AppToken,
			Logger:   lg.With("channel", "slack"),
		})
		if ch.Slack.Enabled {
			out = append(out, a.slack)
		}
	}
	if ch.WebChat.Enabled {
		a.webchat = channel.NewWebChat(channel.WebChatConfig{
			Host:           ch.WebChat.Host,
			Port:           ch.WebChat.Port,
			Path:           ch.WebChat.Path,
			AllowedOrigins: ch.WebChat.AllowedOrigins,
			Logger:         lg.With("channel", "webchat"),
		})
		out = append(out, a.webchat)
	}
	if ch.WhatsApp.Enabled {
		a.whatsapp = channel.NewWhatsApp(channel.WhatsAppConfig{
			APIBase:       ch.WhatsApp.APIBase,
			PhoneNumberID: ch.WhatsApp.PhoneNumberID,
			AccessToken:   ch.WhatsApp.AccessToken,
			VerifyToken:   ch.WhatsApp.VerifyToken,
			AppSecret:     ch.WhatsApp.AppSecret,
			Logger:        lg.With("channel", "whatsapp"),
		})
		out = append(out, a.whatsapp)
	}
	return out
}

// intakeChannels returns the transports serve starts. The webhook server
// also carries the metrics endpoint and the WhatsApp callback.
func (a *app) intakeChannels() []domain.Channel {
	var out []domain.Channel
	if a.telegram != nil {
		out = append(out, a.telegram)
	}
	if a.discord != nil {
		out = append(out, a.discord)
	}
	if a.slack != nil && a.cfg.Channels.Slack.Enabled && a.cfg.Channels.Slack.AppToken != "" {
		out = append(out, a.slack)
	}
	if a.webchat != nil {
		out = append(out, a.webchat)
	}
	if a.cfg.Channels.Webhook.Enabled {
		extra := map[string]http.Handler{}
		if a.cfg.Metrics.Enabled {
			extra[a.cfg.Metrics.Endpoint] = a.collector.Handler()
			extra["/events"] = eventsHandler(a.events)
			extra["/queue"] = queueHandler(a.orch.Queue(), a.cfg.Channels.Webhook.Secret, a.logger)
		}
		if a.whatsapp != nil {
			extra[a.cfg.Channels.WhatsApp.WebhookPath] = a.whatsapp.Handler(a.inbound)
		}
		wh := a.cfg.Channels.Webhook
		out = append(out, channel.NewWebhook(channel.WebhookConfig{
			Host:   wh.Host,
			Port:   wh.Port,
			Path:   wh.Path,
			Secret: wh.Secret,
			Extra:  extra,
			Logger: a.logger.With("channel", "webhook"),
		}))
	} else if a.cfg.Metrics.Enabled || a.whatsapp != nil {
		a.logger.Warn("metrics and whatsapp callbacks need channels.webhook.enabled")
	}
	return out
}

// sweepFollowups is the scheduled followup job.
func (a *app) sweepFollowups(ctx context.Context) error {
	runs, err := a.scheduler.ExecuteDue(ctx, a.cfg.Queue.DrainBatch)
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		a.logger.Info("followups executed", "count", len(runs))
	}
	return nil
}

func (a *app) drain(ctx context.Context) error {
	_, err := a.orch.Drain(ctx, a.cfg.Queue.DrainBatch)
	return err
}

// eventsHandler serves recent pipeline events as JSON, filtered by the
// lead, type and limit query parameters.
func eventsHandler(eb *bus.EventBus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := bus.Filter{Type: q.Get("type"), Limit: 100}
		if v := q.Get("lead"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				http.Error(w, "invalid lead", http.StatusBadRequest)
				return
			}
			f.LeadID = id
		}
		if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
			f.Limit = n
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(eb.Recent(f))
	}
}

// queueHandler reports queue depth per priority and the next message due.
// DELETE evicts one lead's messages (?lead=ID) or flushes the whole queue;
// it needs "Authorization: Bearer <token>" and is refused when token is empty.
func queueHandler(q *queue.MessageQueue, token string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			byPriority := make(map[string]int)
			for p, n := range q.Stats() {
				byPriority[p.String()] = n
			}
			out := map[string]any{"size": q.Size(), "by_priority": byPriority, "next": nil}
			if next, ok := q.Peek(); ok {
				out["next"] = map[string]any{
					"id":       next.ID,
					"lead_id":  next.LeadID,
					"channel":  next.Channel,
					"priority": next.Priority.String(),
					"queued":   next.Timestamp,
				}
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(out)
		case http.MethodDelete:
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			var removed int
			if v := r.URL.Query().Get("lead"); v != "" {
				id, err := strconv.ParseInt(v, 10, 64)
				if err != nil {
					http.Error(w, "invalid lead", http.StatusBadRequest)
					return
				}
				removed = q.RemoveForLead(id)
				logger.Info("queue: evicted lead", "lead", id, "count", removed)
			} else {
				removed = q.Size()
				q.Clear()
				logger.Warn("queue: flushed", "count", removed)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]int{"removed": removed})
		default:
			w.Header().Set("Allow", "GET, DELETE")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (a *app) Close() error {
	a.inbound.Close()
	return a.store.Close()
}
