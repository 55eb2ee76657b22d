package session

import (
	"context"
	"log/slog"

	"github.com/b4its/next-kepin/internal/models"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notice is a user-visible message about a finished session.
type Notice struct {
	UploadID string
	FileName string
	Mode     models.Mode
	Level    Level
	Message  string
	Err      error
}

// Notifier publishes notices to whatever the user is looking at.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// LogNotifier writes notices to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notice) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	level := slog.LevelInfo
	if n.Level == LevelError {
		level = slog.LevelError
	}
	attrs := []any{"upload_id", n.UploadID, "mode", n.Mode}
	if n.Err != nil {
		attrs = append(attrs, "error", n.Err)
	}
	log.Log(ctx, level, n.Message, attrs...)
}

var (
	_ Notifier = NotifierFunc(nil)
	_ Notifier = LogNotifier{}
)
