package engine

// Option is a functional option for configuring the Engine.
type Option func(*Engine) error

// WithConfig replaces the whole configuration.
func WithConfig(cfg *Config) Option {
	return func(e *Engine) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		e.cfg = cfg
		return nil
	}
}

// WithDBPath sets the database file path.
func WithDBPath(path string) Option {
	return func(e *Engine) error {
		e.cfg.DBPath = path
		return nil
	}
}

// WithModulesDir sets the directory scanned for script modules.
func WithModulesDir(dir string) Option {
	return func(e *Engine) error {
		e.cfg.ModulesDir = dir
		return nil
	}
}

// WithDevReload toggles module rescanning on every access.
func WithDevReload(enabled bool) Option {
	return func(e *Engine) error {
		e.cfg.DevReload = enabled
		return nil
	}
}

// WithSampleLimit caps sample URLs per action.
func WithSampleLimit(n int) Option {
	return func(e *Engine) error {
		if n < 0 {
			n = 0
		}
		e.cfg.SampleLimit = n
		return nil
	}
}

// WithMaxHARBytes caps the capture file size accepted on import.
func WithMaxHARBytes(n int64) Option {
	return func(e *Engine) error {
		e.cfg.MaxHARBytes = n
		return nil
	}
}

// WithDedup toggles duplicate suppression on capture import.
func WithDedup(enabled bool) Option {
	return func(e *Engine) error {
		e.cfg.Dedup = enabled
		return nil
	}
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) Option {
	return func(e *Engine) error {
		e.cfg.LogLevel = level
		return nil
	}
}
