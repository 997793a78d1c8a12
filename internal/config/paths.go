package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ActivationsDatabaseFileName is the fixed basename of the local
// activation store, per the external interfaces contract.
const ActivationsDatabaseFileName = "activations.db"

// ActivationsDatabasePath resolves the per-organisation path to the local
// activation store: <user-app-data>/<organisationName>/activations.db, with
// the platform-conventional "Application Support" parent interposed on
// darwin, where os.UserConfigDir already resolves to
// ~/Library/Application Support. It logs the resolved path the way this codebase's path resolver
// always has, and does not create any directories — Open in the store
// package does that.
func ActivationsDatabasePath(organisationName string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to resolve user config directory: %w", err)
	}

	dir := filepath.Join(base, organisationName)

	path := filepath.Join(dir, ActivationsDatabaseFileName)

	slog.Info("resolved activations database path",
		slog.String("organisation_name", organisationName),
		slog.String("path", path),
	)

	return path, nil
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
