package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database       DatabaseConfig
	Reconciliation ReconciliationConfig
	GL             GLConfig
	Log            LogConfig
	Server         ServerConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path       string
	Migrations string
}

// ReconciliationConfig holds matcher and preview settings.
type ReconciliationConfig struct {
	PreviewLimit int `mapstructure:"preview_limit"`
	BatchLimit   int `mapstructure:"batch_limit"`
	// DocumentTypes is the set of linked document types offered for bank
	// matching. Loan repayments are only matched when "loan_repayment" is listed.
	DocumentTypes []string `mapstructure:"document_types"`
}

// GLConfig holds ledger backfill settings.
type GLConfig struct {
	CurrencyPrecision int `mapstructure:"currency_precision"`
	SampleSize        int `mapstructure:"sample_size"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string
	Development bool
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr string
}

// DefaultDocumentTypes lists the linked document types available to bank
// reconciliation, loan documents included.
var DefaultDocumentTypes = []string{
	"payment_entry",
	"journal_entry",
	"purchase_invoice",
	"sales_invoice",
	"expense_claim",
	"bank_transaction",
	"loan_repayment",
	"loan_disbursement",
}

// EnvConfigPath names the env var holding an explicit config file path.
const EnvConfigPath = "LOANRECON_CONFIG"

// Command-line flags honoured by LoadFlags.
const (
	FlagConfig = "config"
	FlagDB     = "db"
)

// Load reads configuration from file and env. Env var overrides use prefix LOANRECON_.
func Load() (Config, error) {
	return LoadFlags(nil)
}

// LoadFlags is Load with flag overrides from fs: --config selects the file
// and --db binds database.path. Unset flags leave file, env and defaults alone.
func LoadFlags(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")

	cfgPath, explicit := Path(fs)
	if explicit {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Dir(cfgPath))
		v.SetConfigName("config")
	}
	if fs != nil {
		if f := fs.Lookup(FlagDB); f != nil {
			if err := v.BindPFlag("database.path", f); err != nil {
				return Config{}, fmt.Errorf("bind --%s: %w", FlagDB, err)
			}
		}
	}

	v.SetEnvPrefix("LOANRECON")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// an explicit config file must exist; the default location is optional
		if explicit || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, c.Validate()
}

// Validate checks values that would otherwise fail deep inside a batch.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("config: database.path is required")
	}
	if c.Reconciliation.PreviewLimit < 0 || c.Reconciliation.BatchLimit < 0 {
		return fmt.Errorf("config: reconciliation limits must not be negative")
	}
	if c.GL.CurrencyPrecision < 0 || c.GL.CurrencyPrecision > 8 {
		return fmt.Errorf("config: gl.currency_precision must be between 0 and 8")
	}
	return nil
}

// Path resolves the config file: --config when set on fs, then
// LOANRECON_CONFIG, then ~/.config/loanrecon/config.toml. explicit is false
// only for the default location.
func Path(fs *pflag.FlagSet) (path string, explicit bool) {
	if fs != nil {
		if f := fs.Lookup(FlagConfig); f != nil && f.Changed && f.Value.String() != "" {
			return f.Value.String(), true
		}
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, true
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "loanrecon", "config.toml"), false
}

// Save writes the provided config to path (Path(nil) when empty), creating
// the config directory if needed.
func Save(cfg Config, path string) error {
	if path == "" {
		path, _ = Path(nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("database.migrations", cfg.Database.Migrations)
	v.Set("reconciliation.preview_limit", cfg.Reconciliation.PreviewLimit)
	v.Set("reconciliation.batch_limit", cfg.Reconciliation.BatchLimit)
	v.Set("reconciliation.document_types", cfg.Reconciliation.DocumentTypes)
	v.Set("gl.currency_precision", cfg.GL.CurrencyPrecision)
	v.Set("gl.sample_size", cfg.GL.SampleSize)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.development", cfg.Log.Development)
	v.Set("server.addr", cfg.Server.Addr)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "loanrecon", "loanrecon.db"))
	v.SetDefault("database.migrations", "internal/database/migrations")
	v.SetDefault("reconciliation.preview_limit", 100)
	v.SetDefault("reconciliation.batch_limit", 1000)
	v.SetDefault("reconciliation.document_types", DefaultDocumentTypes)
	v.SetDefault("gl.currency_precision", 2)
	v.SetDefault("gl.sample_size", 20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("server.addr", ":8080")
}
