// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package portcullis

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"
)

// Configuration contains all configuration values for the portcullis process.
// It is parsed from environment variables once at startup and passed
// explicitly to everything that needs it.
type Configuration struct {
	// externally reachable base URL, used to construct approval links
	GateURL       url.URL
	ListenAddress string

	TOTPSecret string

	PollInterval    time.Duration
	ApprovalTimeout time.Duration

	StatePath     string
	WatchlistPath string

	// credentials for registries that require authentication (optional)
	RegistryUserName string
	RegistryPassword string

	NotifyMethod string
	Ntfy         NtfyConfig
	Telegram     TelegramConfig
	Pushover     PushoverConfig
	Discord      DiscordConfig
}

// NtfyConfig appears in type Configuration.
type NtfyConfig struct {
	ServerURL string
	Topic     string
	Token     string
}

// TelegramConfig appears in type Configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// PushoverConfig appears in type Configuration.
type PushoverConfig struct {
	APIToken string
	UserKey  string
}

// DiscordConfig appears in type Configuration.
type DiscordConfig struct {
	WebhookURL string
}

// ParseConfiguration obtains a portcullis.Configuration from the respective
// environment variables. Aborts on error.
func ParseConfiguration() Configuration {
	cfg := Configuration{
		GateURL:         *must.Return(url.Parse(osext.GetenvOrDefault("PORTCULLIS_GATE_URL", "http://localhost:9999"))),
		ListenAddress:   osext.GetenvOrDefault("PORTCULLIS_LISTEN_ADDRESS", ":9999"),
		TOTPSecret:      osext.MustGetenv("PORTCULLIS_TOTP_SECRET"),
		PollInterval:    getenvDuration("PORTCULLIS_POLL_INTERVAL", 5*time.Minute),
		ApprovalTimeout: getenvDuration("PORTCULLIS_APPROVAL_TIMEOUT", 1*time.Hour),
		StatePath:       osext.GetenvOrDefault("PORTCULLIS_STATE_PATH", "/config/state.json"),
		WatchlistPath:   osext.GetenvOrDefault("PORTCULLIS_WATCHLIST_PATH", "/config/images.json"),

		RegistryUserName: os.Getenv("PORTCULLIS_REGISTRY_USERNAME"),
		RegistryPassword: os.Getenv("PORTCULLIS_REGISTRY_PASSWORD"),

		NotifyMethod: strings.ToLower(osext.GetenvOrDefault("PORTCULLIS_NOTIFY_METHOD", "none")),
		Ntfy: NtfyConfig{
			ServerURL: osext.GetenvOrDefault("PORTCULLIS_NTFY_URL", "https://ntfy.sh"),
			Topic:     os.Getenv("PORTCULLIS_NTFY_TOPIC"),
			Token:     os.Getenv("PORTCULLIS_NTFY_TOKEN"),
		},
		Telegram: TelegramConfig{
			BotToken: os.Getenv("PORTCULLIS_TELEGRAM_BOT_TOKEN"),
			ChatID:   os.Getenv("PORTCULLIS_TELEGRAM_CHAT_ID"),
		},
		Pushover: PushoverConfig{
			APIToken: os.Getenv("PORTCULLIS_PUSHOVER_TOKEN"),
			UserKey:  os.Getenv("PORTCULLIS_PUSHOVER_USER_KEY"),
		},
		Discord: DiscordConfig{
			WebhookURL: os.Getenv("PORTCULLIS_DISCORD_WEBHOOK_URL"),
		},
	}

	if cfg.PollInterval <= 0 {
		logg.Fatal("PORTCULLIS_POLL_INTERVAL must be positive")
	}
	if cfg.ApprovalTimeout <= 0 {
		logg.Fatal("PORTCULLIS_APPROVAL_TIMEOUT must be positive")
	}

	return cfg
}

// ApproveURL returns the externally reachable URL on which the approval
// request with the given token can be decided.
func (cfg Configuration) ApproveURL(token string) string {
	u := cfg.GateURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/approve/" + token
	return u.String()
}

func getenvDuration(key string, defaultValue time.Duration) time.Duration {
	valStr := osext.GetenvOrDefault(key, defaultValue.String())
	val, err := time.ParseDuration(valStr)
	if err != nil {
		logg.Fatal("malformed %s: %s", key, err.Error())
	}
	return val
}
