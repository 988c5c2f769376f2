//go:build linux

package sensor

import "log/slog"

// NewPlatformSource returns the step counter source for this platform.
func NewPlatformSource(cfg PlatformConfig, log *slog.Logger) Source {
	return NewDBusSource(DBusConfig{
		BusName:    cfg.BusName,
		ObjectPath: cfg.ObjectPath,
		Interface:  cfg.Interface,
		Property:   cfg.Property,
	}, log)
}
