package commands

import (
	"database/sql"
	"os"

	"github.com/chorus/jobs/am"
	"github.com/chorus/jobs/db"
	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/logger"
)

// ConfigFile is set by the root --config flag. Empty means the usual
// cascade (system, user, project am.toml, CHORUS_* env).
var ConfigFile string

// LoadConfig loads and validates the active configuration.
func LoadConfig() (*am.Config, error) {
	var (
		cfg *am.Config
		err error
	)
	if ConfigFile != "" {
		cfg, err = am.LoadFromFile(ConfigFile)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// watchedConfigFile is the file a running daemon reloads from: the
// --config file, or the highest precedence am.toml that exists.
func watchedConfigFile() string {
	if ConfigFile != "" {
		return ConfigFile
	}
	paths := am.ConfigPaths()
	for i := len(paths) - 1; i >= 0; i-- {
		if _, err := os.Stat(paths[i]); err == nil {
			return paths[i]
		}
	}
	return ""
}

// openDatabase opens and migrates the configured database.
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	path := cfg.GetDatabasePath()
	database, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	return database, nil
}
