package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

type TLS struct {
	CertFile  string `mapstructure:"certFile"`
	KeyFile   string `mapstructure:"keyFile"`
	EnableTLS bool   `mapstructure:"enableTLS"`
}

type Config struct {
	Mode   string `mapstructure:"mode"`
	Dotenv string `mapstructure:"dotenv"`
	Server struct {
		HTTPPort       string        `mapstructure:"HTTPPort"`
		Timeout        time.Duration `mapstructure:"HTTPTimeout"`
		AllowedOrigins []string      `mapstructure:"allowedOrigins"`
		TLS            `mapstructure:",squash"`
	} `mapstructure:"server"`
	Repositories struct {
		Postgres struct {
			Host              string `mapstructure:"host"`
			Password          string `mapstructure:"password"`
			Port              string `mapstructure:"port"`
			Username          string `mapstructure:"username"`
			DB                string `mapstructure:"db"`
			SSLMODE           string `mapstructure:"SSLMODE"`
			MAXCONWAITINGTIME int    `mapstructure:"MAXCONWAITINGTIME"`
		} `mapstructure:"postgres"`
	} `mapstructure:"repositories"`
	Auth struct {
		// JWTSecret verifies bearer tokens. Empty disables verification and
		// requests fall back to the identity they carry.
		JWTSecret string `mapstructure:"jwtSecret"`
		Audience  string `mapstructure:"audience"`
	} `mapstructure:"auth"`
	Engine struct {
		StateDir         string        `mapstructure:"stateDir"`
		BackendURL       string        `mapstructure:"backendURL"`
		SearchContextTTL time.Duration `mapstructure:"searchContextTTL"`
		AutoSaveDebounce time.Duration `mapstructure:"autoSaveDebounce"`
		NetworkTimeout   time.Duration `mapstructure:"networkTimeout"`
		MaxSearchEvents  int           `mapstructure:"maxSearchEvents"`
		MaxEvents        int           `mapstructure:"maxEvents"`
		Strict           bool          `mapstructure:"strict"`
		RateLimit        float64       `mapstructure:"rateLimit"`
		Burst            int           `mapstructure:"burst"`
	} `mapstructure:"engine"`
	Recommendations struct {
		GenAIEnabled bool   `mapstructure:"genaiEnabled"`
		Model        string `mapstructure:"model"`
		APIKey       string `mapstructure:"apiKey"`
		DefaultLimit int    `mapstructure:"defaultLimit"`
	} `mapstructure:"recommendations"`
	Observability struct {
		ServiceName string `mapstructure:"serviceName"`
		Prometheus  struct {
			Port string `mapstructure:"port"`
		} `mapstructure:"prometheus"`
	} `mapstructure:"observability"`
}

// InitConfig loads config.yml from the usual locations, falling back to the
// embedded copy. APP_ prefixed variables override file values, e.g.
// APP_REPOSITORIES_POSTGRES_HOST or APP_RECOMMENDATIONS_APIKEY.
func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")
	v.AddConfigPath("/usr/local/bin")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	err := v.ReadInConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	fmt.Println("Successfully loaded app configs...")
	return config, nil
}
