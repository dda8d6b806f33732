package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	UserTable UserTableConfig `mapstructure:"user_table"`
	Logging   LoggingConfig   `mapstructure:"logging"`

	// Retained so option lookups can distinguish "key unset" from
	// "key set to false" (see FlagLoggingDisabled, ContentFieldAllowed).
	v *viper.Viper
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	CustomURL      string `mapstructure:"custom_url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type UserTableConfig struct {
	Name        string `mapstructure:"name"`
	EmailColumn string `mapstructure:"email_column"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return FromViper(v)
}

// FromViper builds a Config from an already-populated viper instance.
// Tests use this to exercise the option gates without a config file.
func FromViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	config.v = v

	return &config, nil
}

// FlagLoggingDisabled reports whether flag persistence is switched off.
// Only an options key explicitly set to boolean true disables a kind;
// absent keys and any other value leave the feature enabled.
func (c *Config) FlagLoggingDisabled() bool {
	return c.loggingDisabled("flag")
}

func (c *Config) TagLoggingDisabled() bool {
	return c.loggingDisabled("tag")
}

func (c *Config) VariableLoggingDisabled() bool {
	return c.loggingDisabled("variable")
}

func (c *Config) loggingDisabled(kind string) bool {
	b, ok := c.v.Get("options.disable_" + kind + "_logging").(bool)
	return ok && b
}

// ContentFieldAllowed reports whether a content body field (stripped_text,
// stripped_html, body_html, body_plain) may be stored. A field is suppressed
// only when its content_logging key is present and literally false; an unset
// key means allowed.
func (c *Config) ContentFieldAllowed(field string) bool {
	key := "content_logging." + field
	if !c.v.IsSet(key) {
		return true
	}
	if b, ok := c.v.Get(key).(bool); ok && !b {
		return false
	}
	return true
}
