package config

import (
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/bagworks/bagproc/bagproc"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Storage Storage `mapstructure:"storage"`
	Ingest  Ingest  `mapstructure:"ingest"`
	Gateway Gateway `mapstructure:"gateway"`
	Server  Server  `mapstructure:"server"`
	Topics  Topics  `mapstructure:"topics"`
}

// Storage stores output layout settings for ingested bags.
type Storage struct {
	// Root is the directory that holds uploaded bags and extracted frames.
	Root string `mapstructure:"root"`
	// FrameQuality is the JPEG quality (1-100) for extracted frames.
	FrameQuality int `mapstructure:"frameQuality"`
}

// Ingest stores pipeline scheduling settings.
type Ingest struct {
	// MaxConcurrentBags bounds how many ingestion pipelines run at once.
	MaxConcurrentBags int `mapstructure:"maxConcurrentBags"`
}

// Gateway stores persistence connection details.
type Gateway struct {
	DSN string `mapstructure:"dsn"`
}

// Server stores HTTP API settings.
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Topics stores the topic catalog: which bag topics are ingested and how.
type Topics struct {
	Camera []string `mapstructure:"camera"`
	Pose   []string `mapstructure:"pose"`
	Imu    []string `mapstructure:"imu"`
	// Ignore holds gitignore-style patterns; matching topics are skipped
	// before resolution.
	Ignore []string `mapstructure:"ignore"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		viper.AddConfigPath(internal.DefaultConfigPath)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Set default values
	viper.SetDefault("storage.root", internal.DefaultStorageDir)
	viper.SetDefault("storage.frameQuality", internal.DefaultFrameQuality)
	viper.SetDefault("ingest.maxConcurrentBags", internal.DefaultMaxConcurrentBags)
	viper.SetDefault("gateway.dsn", internal.DefaultGatewayDSN)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("topics.camera", []string{
		"/camera/camera/color/image_raw",
		"/camera/camera/depth/image_rect_raw",
		"/camera/camera/infra1/image_rect_raw",
		"/camera/camera/infra2/image_rect_raw",
	})
	viper.SetDefault("topics.pose", []string{"/camera/pose"})
	viper.SetDefault("topics.imu", []string{"/camera/camera/imu"})

	viper.AutomaticEnv()                                   // Read in environment variables that match
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // e.g. storage.frameQuality becomes STORAGE_FRAMEQUALITY

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults will be used. This is not an
			// error for the application to halt on.
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	err := viper.Unmarshal(&AppConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &AppConfig, nil
}
