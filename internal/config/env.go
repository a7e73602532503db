package config

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"

	"git.home.luguber.info/inful/actionworker/internal/logfields"
)

var envFiles = []string{".env.local", ".env"}

// loadEnvFiles loads the .env files that exist. Variables already set in the
// process environment win, and the earlier file wins over the later one.
func loadEnvFiles() {
	for _, path := range envFiles {
		err := godotenv.Load(path)
		switch {
		case err == nil:
			slog.Debug("Loaded environment file", logfields.Path(path))
		case errors.Is(err, fs.ErrNotExist):
		default:
			slog.Warn("Could not load environment file", logfields.Path(path), logfields.Error(err))
		}
	}
}
