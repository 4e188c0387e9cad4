package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only the log level and endpointer tuning are applied without restart;
// other changes are listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EndpointerChanged is true if any endpointer setting changed. New
	// streams pick up the new settings; running streams keep theirs.
	EndpointerChanged bool

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.EndpointerChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.EndpointerChanged = old.Endpointer != new.Endpointer

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if oldServer.ListenAddr != newServer.ListenAddr || oldServer.MaxSessions != newServer.MaxSessions ||
		!sameTLS(oldServer.TLS, newServer.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameEngine(old.Engine, new.Engine) {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameEngine(a, b EngineConfig) bool {
	if a.Name != b.Name || a.Model != b.Model || !slices.Equal(a.Searches, b.Searches) {
		return false
	}
	return maps.EqualFunc(a.Params, b.Params, func(v, w any) bool { return reflect.DeepEqual(v, w) })
}
