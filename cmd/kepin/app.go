package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/b4its/next-kepin/internal/client"
	"github.com/b4its/next-kepin/internal/models"
)

// app bundles the backend client with the persisted session.
type app struct {
	client      *client.Client
	identity    *client.IdentityProvider
	sessionPath string
}

func newApp() (*app, error) {
	path := viper.GetString("session_file")
	if path == "" {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "session")
	}

	sid, err := loadSession(path)
	if err != nil {
		return nil, err
	}
	c, err := client.New(viper.GetString("server"), client.WithSession(sid))
	if err != nil {
		return nil, err
	}
	return &app{client: c, identity: client.NewIdentityProvider(c), sessionPath: path}, nil
}

// requireUser resolves the logged-in user or explains how to log in.
func (a *app) requireUser(ctx context.Context) (*models.User, error) {
	user, err := a.identity.Require(ctx)
	if errors.Is(err, client.ErrUnauthenticated) {
		return nil, errors.New("not logged in, run 'kepin login' first")
	}
	return user, err
}

func (a *app) persistSession() error {
	return saveSession(a.sessionPath, a.client.SessionID())
}

func loadSession(path string) (string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// saveSession writes the session id readable by the owner only. An empty
// id removes the file.
func saveSession(path, sessionID string) error {
	if sessionID == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove session: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(sessionID+"\n"), 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}
