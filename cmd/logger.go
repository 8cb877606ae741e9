package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/lmittmann/tint"
)

var logger = slog.Default()

func setupLogger(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		NoColor:    runtime.GOOS == "windows",
		AddSource:  lvl <= slog.LevelDebug,
		Level:      lvl,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)
	return nil
}
