// Package config loads the panel configuration from a TOML file.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const envConfigPath = "SUBMASTER_CONFIG"

type Config struct {
	Web      WebConfig      `toml:"web"`
	Database DatabaseConfig `toml:"database"`
	Telegram TelegramConfig `toml:"telegram"`
	Redis    RedisConfig    `toml:"redis"`
	Payments PaymentsConfig `toml:"payments"`
	Referral ReferralConfig `toml:"referral"`
	Trial    TrialConfig    `toml:"trial"`
	Jobs     JobsConfig     `toml:"jobs"`
}

type WebConfig struct {
	Listen      string `toml:"listen"`
	APIKey      string `toml:"api_key"`
	TLSCertFile string `toml:"tls_cert_file"`
	TLSKeyFile  string `toml:"tls_key_file"`
}

type DatabaseConfig struct {
	Driver      string `toml:"driver"`
	DSN         string `toml:"dsn"`
	AutoMigrate bool   `toml:"auto_migrate"`
}

type TelegramConfig struct {
	Enabled        bool   `toml:"enabled"`
	Token          string `toml:"token"`
	OperatorChatId int64  `toml:"operator_chat_id"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type PaymentsConfig struct {
	// PendingTimeoutMinutes is both the payment expiry window and the
	// stale-transaction sweep cutoff.
	PendingTimeoutMinutes int             `toml:"pending_timeout_minutes"`
	YooKassa              YooKassaConfig  `toml:"yookassa"`
	CryptoPay             CryptoPayConfig `toml:"cryptopay"`
}

type YooKassaConfig struct {
	Enabled   bool   `toml:"enabled"`
	ShopId    string `toml:"shop_id"`
	SecretKey string `toml:"secret_key"`
	ReturnURL string `toml:"return_url"`
	// BehindProxy trusts X-Forwarded-For/X-Real-IP for the webhook
	// source check. Leave off when the panel is exposed directly, or
	// anyone can spoof a trusted sender address.
	BehindProxy    bool     `toml:"behind_proxy"`
	TrustedSubnets []string `toml:"trusted_subnets"`
}

type CryptoPayConfig struct {
	Enabled bool   `toml:"enabled"`
	Token   string `toml:"token"`
	APIURL  string `toml:"api_url"`
}

type ReferralConfig struct {
	Enabled bool `toml:"enabled"`
	// Mode is "days" (fixed day-count rewards, fully supported) or
	// "percent" (money-denominated, recorded but not fulfilled).
	Mode              string  `toml:"mode"`
	Level1Days        int     `toml:"level1_days"`
	Level2Days        int     `toml:"level2_days"`
	Level1Percent     float64 `toml:"level1_percent"`
	Level2Percent     float64 `toml:"level2_percent"`
	ReferredBonusDays int     `toml:"referred_bonus_days"`
}

type TrialConfig struct {
	Enabled bool `toml:"enabled"`
	Days    int  `toml:"days"`
	Devices int  `toml:"devices"`
}

type JobsConfig struct {
	NodeSyncMinutes           int `toml:"node_sync_minutes"`
	ExpireTransactionsMinutes int `toml:"expire_transactions_minutes"`
	ReferralSweepMinutes      int `toml:"referral_sweep_minutes"`
	PurgeExpiredHours         int `toml:"purge_expired_hours"`
	PurgeGraceDays            int `toml:"purge_grace_days"`
	ExpiryNotifyHours         int `toml:"expiry_notify_hours"`
}

// Default YooKassa webhook source subnets, per provider documentation.
var defaultYooKassaSubnets = []string{
	"185.71.76.0/27",
	"185.71.77.0/27",
	"77.75.153.0/25",
	"77.75.156.224/28",
	"77.75.154.128/25",
	"2a02:5180::/32",
}

// Load reads the configuration file. An empty path falls back to the
// SUBMASTER_CONFIG environment variable, then to "submaster.toml".
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path == "" {
		path = "submaster.toml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Web: WebConfig{
			Listen: ":8085",
		},
		Database: DatabaseConfig{
			Driver:      "sqlite",
			DSN:         "data/submaster.db",
			AutoMigrate: true,
		},
		Payments: PaymentsConfig{
			PendingTimeoutMinutes: 15,
			YooKassa: YooKassaConfig{
				TrustedSubnets: defaultYooKassaSubnets,
			},
		},
		Referral: ReferralConfig{
			Mode:       "days",
			Level1Days: 10,
			Level2Days: 3,
		},
		Trial: TrialConfig{
			Days:    3,
			Devices: 1,
		},
		Jobs: JobsConfig{
			NodeSyncMinutes:           5,
			ExpireTransactionsMinutes: 15,
			ReferralSweepMinutes:      15,
			PurgeExpiredHours:         6,
			PurgeGraceDays:            3,
			ExpiryNotifyHours:         1,
		},
	}
}

func (c *Config) validate() error {
	if c.Web.APIKey == "" {
		return fmt.Errorf("web.api_key must be set")
	}
	if c.Database.Driver != "sqlite" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver)
	}
	if c.Payments.YooKassa.Enabled && (c.Payments.YooKassa.ShopId == "" || c.Payments.YooKassa.SecretKey == "") {
		return fmt.Errorf("payments.yookassa requires shop_id and secret_key")
	}
	if c.Payments.CryptoPay.Enabled && c.Payments.CryptoPay.Token == "" {
		return fmt.Errorf("payments.cryptopay requires token")
	}
	if c.Referral.Mode != "days" && c.Referral.Mode != "percent" {
		return fmt.Errorf("referral.mode must be \"days\" or \"percent\", got %q", c.Referral.Mode)
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token must be set when telegram is enabled")
	}
	return nil
}
