package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Discord: DiscordConfig{
			TokenType: "bot",
		},
		Filter: FilterConfig{
			AllowBots:        false,
			BlockPromotional: true,
		},
		Channels: ChannelsConfig{
			Entries: defaultChannels(),
		},
		Sinks: SinksConfig{
			Webhook: WebhookSinkConfig{
				Path: "/api/discord/message",
				Role: "primary",
			},
			Push: PushSinkConfig{
				Role: "backup",
			},
			Store: StoreSinkConfig{
				DBPath: "~/.relaybot/relay.db",
				Role:   "backup",
			},
			Slack: SlackSinkConfig{
				Role: "backup",
			},
			Telegram: TelegramSinkConfig{
				Role: "backup",
			},
			Feed: FeedSinkConfig{
				Path: "/ws",
				Role: "backup",
			},
		},
		Delivery: DeliveryConfig{
			Order:          []string{SinkWebhook, SinkPush, SinkStore, SinkSlack, SinkTelegram, SinkFeed},
			TimeoutSeconds: 10,
			MaxInFlight:    16,
			QueueSize:      100,
		},
		Retention: RetentionConfig{
			Keep:         100,
			SweepEnabled: true,
			SweepCron:    "*/30 * * * *",
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Metrics: true,
		},
	}
}

func defaultChannels() []ChannelEntry {
	table := []struct{ id, name string }{
		{"1251179699674288208", "SHOCKED"},
		{"1251848915305631834", "VANQUISH"},
		{"1250885750158000203", "DIGI"},
		{"1323011103894016133", "PASTEL"},
		{"1358931443786584144", "CRYPTIC"},
		{"1256632909008339035", "YOGURTVERSE"},
		{"1319692012261347360", "HEAVEN OR HELL"},
		{"1316031095497818143", "MINTED"},
		{"1392587523838185592", "SERENITY"},
		{"1302921864540323861", "TECHNICAL ALPHA"},
		{"1307140339991183380", "PF TRENCHES"},
		{"1304074398185029632", "POTION"},
		{"1250885751768481849", "PROSPERITY DAO"},
		{"1316784867962519603", "SECRET SOCIETY"},
	}
	entries := make([]ChannelEntry, 0, len(table))
	for _, t := range table {
		entries = append(entries, ChannelEntry{ID: t.id, Name: t.name, Key: Slug(t.name)})
	}
	return entries
}
