package metrics

import "codeberg.org/mutker/cgmbridge/internal/errors"

const (
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/cgmbridge/history.db"
	defaultBatchSize    = 10
	defaultBatchTimeout = 60
)

type Config struct {
	DBPath  string
	Enabled bool
	// BatchSize deliveries are buffered before they are written.
	BatchSize int
	// BatchTimeout in seconds flushes a partial batch.
	BatchTimeout int
	// BackupDir receives a copy of an outdated database before migration.
	// Defaults to a "backups" directory next to DBPath.
	BackupDir string
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		Enabled:      false,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, "batch settings must not be negative")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
