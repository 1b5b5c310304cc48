// Package cliconfig holds the flags shared by every subcommand and turns
// them into a loaded configuration and logger.
package cliconfig

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/config"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/logging"
)

type Flags struct {
	ConfigPath string
	EnvFile    string
	LogLevel   string

	// Fs defaults to the OS filesystem.
	Fs afero.Fs
}

// Register binds the shared flags as persistent flags of root.
func (f *Flags) Register(root *cobra.Command) {
	pf := root.PersistentFlags()
	pf.StringVar(&f.ConfigPath, "config", "", "path to sftpadmin.yaml (environment overrides it)")
	pf.StringVar(&f.EnvFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	pf.StringVar(&f.LogLevel, "log-level", "", "log level override: debug|info|warning|error")
}

func (f *Flags) fs() afero.Fs {
	if f.Fs == nil {
		return afero.NewOsFs()
	}
	return f.Fs
}

// Config loads the configuration from the dotenv file, the optional YAML
// file and the environment.
func (f *Flags) Config() (config.Config, error) {
	if p := strings.TrimSpace(f.EnvFile); p != "" {
		if err := config.LoadDotEnv(f.fs(), p); err != nil {
			return config.Config{}, err
		}
	}
	return config.Load(f.fs(), f.ConfigPath)
}

// Logger builds the process logger from cfg. The closer releases the log file.
func (f *Flags) Logger(cfg config.Config) (*slog.Logger, io.Closer, error) {
	level := cfg.Log.Level
	if strings.TrimSpace(f.LogLevel) != "" {
		level = f.LogLevel
	}
	return logging.New(logging.Options{
		Level:       level,
		JSON:        cfg.Log.JSON,
		File:        logging.FileOptions{Path: cfg.Log.File},
		DefaultSlog: true,
	})
}
