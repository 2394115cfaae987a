package commands

import (
	"os"
	"runtime"
	"runtime/debug"

	"github.com/go-the-way/novnc4svc/internal/config"
	"github.com/go-the-way/novnc4svc/internal/logging"
)

// Global CLI flags
var (
	// ConfigPath overrides the default config file location
	ConfigPath string

	// LogLevel overrides log.level from the config file
	LogLevel string
)

func configPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults when it does
// not exist.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath())
}

// SetupLogging configures the global logger from the config file and the
// --log-level flag. Logs go to stderr so command output stays clean.
func SetupLogging() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	levelName := cfg.Log.Level
	if LogLevel != "" {
		levelName = LogLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	logging.Configure(os.Stderr, level, cfg.Log.Format)
	return nil
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

// GetGoVersion returns the Go version
func GetGoVersion() string {
	return runtime.Version()
}
