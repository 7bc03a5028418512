package devlogger_test

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditmos/devlogger/devlogger"
	"github.com/auditmos/devlogger/logging"
	"github.com/auditmos/devlogger/storage"
)

func TestSlogHandler_Records(t *testing.T) {
	repo := newRepo(t)
	l, _ := newLogger(t, repo)

	logger := slog.New(devlogger.NewSlogHandler(l)).With("service", "billing").WithGroup("req")
	logger.Error("charge failed", "id", 7, slog.Group("card", "brand", "visa"))

	rec := onlyRecord(t, repo)
	assert.Equal(t, "error", rec.Level)
	assert.Equal(t, "charge failed", rec.Message)
	assert.Equal(t, "billing", rec.Context["service"])
	assert.Equal(t, float64(7), rec.Context["req.id"])
	assert.Equal(t, "visa", rec.Context["req.card.brand"])
	require.NotNil(t, rec.FilePath)
	assert.Equal(t, "slog_test.go", filepath.Base(*rec.FilePath))
}

func TestSlogHandler_Enabled(t *testing.T) {
	l, err := devlogger.New(devlogger.Options{
		MinLevel: logging.WARN,
		Channels: map[string]devlogger.Channel{"stderr": &captureChannel{}},
	})
	require.NoError(t, err)

	h := devlogger.NewSlogHandler(l)
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
}

func TestSlogHandler_ForwardsWhenPersistenceDisabled(t *testing.T) {
	l, ch := newLogger(t, nil)

	slog.New(devlogger.NewSlogHandler(l)).Info("hello {who}", "who", "world")

	require.Len(t, ch.entries, 1)
	assert.Equal(t, "hello world", ch.entries[0].message)
	assert.Equal(t, logging.INFO, ch.entries[0].level)
}

func TestFromSlogLevel(t *testing.T) {
	tests := []struct {
		in   slog.Level
		want logging.LogLevel
	}{
		{slog.LevelDebug - 4, logging.TRACE},
		{slog.LevelDebug, logging.DEBUG},
		{slog.LevelInfo, logging.INFO},
		{slog.LevelInfo + 2, logging.NOTICE},
		{slog.LevelWarn, logging.WARN},
		{slog.LevelError, logging.ERROR},
		{slog.LevelError + 4, logging.CRITICAL},
		{slog.LevelError + 8, logging.ALERT},
		{slog.LevelError + 12, logging.EMERGENCY},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, devlogger.FromSlogLevel(tt.in), tt.in.String())
	}
}

var _ slog.Handler = (*devlogger.SlogHandler)(nil)
var _ devlogger.RecordStore = (*storage.SQLiteRecordRepo)(nil)
