package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch re-decodes the configuration whenever the loaded file is written and
// passes the result to fn. It is a no-op when no config file was found.
func Watch(v *viper.Viper, logger *slog.Logger, fn func(*Config)) bool {
	if v == nil || v.ConfigFileUsed() == "" {
		return false
	}
	if logger == nil {
		logger = slog.Default()
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Decode(v)
		if err != nil {
			logger.Warn("config reload failed", "file", e.Name, "error", err)
			return
		}
		logger.Info("config reloaded", "file", e.Name)
		fn(cfg)
	})
	v.WatchConfig()
	return true
}
