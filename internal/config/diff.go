package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// anything else flips RequiresRestart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TranscriptsChanged bool // poll interval or window
	TickerChanged      bool
	AgentNameChanged   bool

	// RequiresRestart is set when listen address, TLS, store DSN, or any
	// provider credential changed. Those are wired at startup.
	RequiresRestart bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Transcripts != new.Transcripts {
		d.TranscriptsChanged = true
	}
	if old.Wallet.TickerInterval != new.Wallet.TickerInterval {
		d.TickerChanged = true
	}
	if old.Gateway.AgentName != new.Gateway.AgentName {
		d.AgentNameChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RequiresRestart = true
	}
	if !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RequiresRestart = true
	}
	if old.Store != new.Store {
		d.RequiresRestart = true
	}
	if old.Providers != new.Providers {
		d.RequiresRestart = true
	}
	if old.Gateway.Enabled != new.Gateway.Enabled || old.Analytics != new.Analytics {
		d.RequiresRestart = true
	}

	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
