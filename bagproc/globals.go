package internal

import (
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var (
	// DefaultAppName is used for config discovery and default paths
	DefaultAppName    = "bagproc"
	DefaultConfigPath = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultStorageDir = filepath.Join(getHomeDir(), DefaultAppName, "bags")

	// Default persistence settings
	DefaultGatewayDSN = "postgres://postgres@localhost:5432/rosbags?sslmode=disable"

	// DefaultFrameQuality is the JPEG quality used for extracted frames
	DefaultFrameQuality = 85

	// DefaultMaxConcurrentBags bounds how many bags are ingested at once
	DefaultMaxConcurrentBags = 2
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current working directory if home directory is unavailable
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			// Last resort - use tmp directory
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
