package config

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Provision ProvisionConfig `mapstructure:"provision"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	LogLevel  string          `mapstructure:"log_level"`
}

// DatabaseConfig holds the PostgreSQL connection settings
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// HTTPConfig holds the HTTP server configuration
type HTTPConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	PublicURL  string `mapstructure:"public_url"`
	JWTSecret  string `mapstructure:"jwt_secret"`
}

// ProvisionConfig holds provisioning behavior settings
type ProvisionConfig struct {
	NamePrefix string `mapstructure:"name_prefix"`
	PortFile   string `mapstructure:"port_file"`

	// PreserveUnlimitedOnAdd keeps an unlimited quota unlimited when a finite
	// add-on volume is purchased. Off by default: adding volume on top of an
	// unlimited account converts it to a finite quota.
	PreserveUnlimitedOnAdd bool `mapstructure:"preserve_unlimited_on_add"`
}

// SweepConfig holds the expiry reconciliation sweep settings
type SweepConfig struct {
	IntervalMinutes int  `mapstructure:"interval_minutes"`
	WarnDays        int  `mapstructure:"warn_days"`
	AutoPurge       bool `mapstructure:"auto_purge"`
	PurgeDays       int  `mapstructure:"purge_days"`
	BatchSize       int  `mapstructure:"batch_size"`
}

// TelegramConfig holds the expiry notifier settings
type TelegramConfig struct {
	Token   string `mapstructure:"token"`
	AdminID int64  `mapstructure:"admin_id"`
}
