package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:           "info",
			DefaultProvider:    "ollama",
			MaxConcurrentLeads: 4,
		},
		Providers: map[string]ProviderConfig{
			"ollama": {
				Enabled:      true,
				Kind:         "ollama",
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Store: StoreConfig{
			DBPath: "~/.salesbot/sales.db",
		},
		Agent: AgentConfig{
			CompanyName:         "Our Company",
			AgentName:           "Alex",
			HistoryWindow:       10,
			SentimentHistory:    5,
			SentimentWindowDays: 30,
			Temperature:         0.7,
			MaxTokens: MaxTokensConfig{
				Inbound:   500,
				Greet:     300,
				Followup:  300,
				Close:     400,
				Objection: 400,
			},
			MaxFollowups:          3,
			FollowupIntervalHours: 24,
			MaxRecommendations:    3,
		},
		Compliance: ComplianceConfig{
			ScreenOutbound: true,
		},
		Queue: QueueConfig{
			Workers:    4,
			DrainBatch: 50,
			WarnSize:   500,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			FollowupSpec: "*/5 * * * *",
			DrainSpec:    "@every 30s",
		},
		Channels: ChannelsConfig{
			Email: EmailConfig{
				Port: 587,
			},
			Telegram: TelegramConfig{
				ParseMode: "Markdown",
			},
			WhatsApp: WhatsAppConfig{
				WebhookPath: "/whatsapp",
			},
			WebChat: WebChatConfig{
				Host: "127.0.0.1",
				Port: 8081,
				Path: "/chat",
			},
			Webhook: WebhookConfig{
				Host: "127.0.0.1",
				Port: 8082,
				Path: "/inbound",
			},
			SendRatePerSecond: 5,
			SendBurst:         10,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
