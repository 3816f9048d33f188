package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xaenox/task-bot/internal/models"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Service      ServiceConfig      `mapstructure:"service"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	Twilio       TwilioConfig       `mapstructure:"twilio"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Reminders    RemindersConfig    `mapstructure:"reminders"`
	Conversation ConversationConfig `mapstructure:"conversation"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type ServiceConfig struct {
	// Timezone is the fixed operating timezone all relative dates and times
	// are resolved in, regardless of server locale.
	Timezone string `mapstructure:"timezone"`
}

type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type RemindersConfig struct {
	Interval  time.Duration     `mapstructure:"interval"`
	LeadTimes []models.LeadTime `mapstructure:"lead_times"`
}

type ConversationConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("service.timezone", "Asia/Kolkata")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 300)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("openai.timeout", 12*time.Second)
	v.SetDefault("reminders.interval", time.Minute)
	v.SetDefault("conversation.ttl", 5*time.Minute)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}
	if sid := v.GetString("TWILIO_ACCOUNT_SID"); sid != "" {
		config.Twilio.AccountSID = sid
	}
	if token := v.GetString("TWILIO_AUTH_TOKEN"); token != "" {
		config.Twilio.AuthToken = token
	}
	if from := v.GetString("TWILIO_FROM_NUMBER"); from != "" {
		config.Twilio.FromNumber = from
	}
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if len(config.Reminders.LeadTimes) == 0 {
		config.Reminders.LeadTimes = DefaultLeadTimes()
	}

	return &config, nil
}

// DefaultLeadTimes is the ordered list of deadline lead times consulted by the
// reminder dispatcher when none are configured.
func DefaultLeadTimes() []models.LeadTime {
	return []models.LeadTime{
		{Minutes: 1440, Label: "1 day"},
		{Minutes: 240, Label: "4 hours"},
		{Minutes: 60, Label: "1 hour"},
		{Minutes: 30, Label: "30 minutes"},
	}
}
