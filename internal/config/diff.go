package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LanguageChanged bool
	NewLanguage     string

	CoalesceChanged bool
	NewCoalesce     bool

	// RestartRequired lists changed settings that only take effect after a
	// restart (provider, listen address, archive, backend URL).
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.LanguageChanged || d.CoalesceChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; everything else
// is reported in RestartRequired.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Copilot.Language != new.Copilot.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.Copilot.Language
	}
	if old.Copilot.Coalesce != new.Copilot.Coalesce {
		d.CoalesceChanged = true
		d.NewCoalesce = new.Copilot.Coalesce
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !sameProvider(old.Providers.LLM, new.Providers.LLM) {
		d.RestartRequired = append(d.RestartRequired, "providers.llm")
	}
	if len(old.Providers.Fallbacks) != len(new.Providers.Fallbacks) {
		d.RestartRequired = append(d.RestartRequired, "providers.fallbacks")
	} else {
		for i := range old.Providers.Fallbacks {
			if !sameProvider(old.Providers.Fallbacks[i], new.Providers.Fallbacks[i]) {
				d.RestartRequired = append(d.RestartRequired, "providers.fallbacks")
				break
			}
		}
	}
	if old.Copilot.BackendURL != new.Copilot.BackendURL {
		d.RestartRequired = append(d.RestartRequired, "copilot.backend_url")
	}
	if old.Copilot.AnalysisTimeout != new.Copilot.AnalysisTimeout || old.Copilot.Window != new.Copilot.Window {
		d.RestartRequired = append(d.RestartRequired, "copilot")
	}
	if old.Archive != new.Archive {
		d.RestartRequired = append(d.RestartRequired, "archive")
	}

	return d
}

// sameProvider compares the fields of two entries that affect construction.
// Options are not compared.
func sameProvider(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
