package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CharacterChanged is set when transport.character_id differs. The new
	// persona can be announced on the live session.
	CharacterChanged bool
	NewCharacterID   string

	// RestartRequired lists the top-level sections whose changes only take
	// effect for the next session.
	RestartRequired []string
}

// Changed reports whether d holds any difference.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.CharacterChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Transport.CharacterID != new.Transport.CharacterID {
		d.CharacterChanged = true
		d.NewCharacterID = new.Transport.CharacterID
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Capture != new.Capture {
		d.RestartRequired = append(d.RestartRequired, "capture")
	}
	if !sourceEqual(old.Source, new.Source) {
		d.RestartRequired = append(d.RestartRequired, "source")
	}
	if !transportEqual(old.Transport, new.Transport) {
		d.RestartRequired = append(d.RestartRequired, "transport")
	}
	if old.CircuitBreaker != new.CircuitBreaker || old.Reconnect != new.Reconnect {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}
	return d
}

func sourceEqual(a, b SourceConfig) bool {
	return a.Kind == b.Kind &&
		a.Path == b.Path &&
		a.Duration == b.Duration &&
		a.Frequency == b.Frequency &&
		a.Amplitude == b.Amplitude &&
		a.IsRealtime() == b.IsRealtime()
}

// transportEqual compares the dial-relevant fields. CharacterID is tracked
// separately and Options are not compared.
func transportEqual(a, b TransportConfig) bool {
	if !entryEqual(a.TransportEntry, b.TransportEntry) || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !entryEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

func entryEqual(a, b TransportEntry) bool {
	return a.Name == b.Name &&
		a.URL == b.URL &&
		a.Token == b.Token &&
		a.TokenQuery == b.TokenQuery &&
		a.WriteTimeout == b.WriteTimeout &&
		a.Path == b.Path
}
