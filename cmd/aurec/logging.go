package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"aurec/internal/config"
)

const logLevelEnvKey = "AUREC_LOG_LEVEL"

// configureLoggerForCLI installs the process-wide slog logger. The level is
// taken from the first of --log-level, AUREC_LOG_LEVEL, and the config file
// that is set. A bad flag value is the caller's mistake and errors out; a
// bad env or config value must not make the CLI unusable, so it falls back
// to the default level with a warning instead.
func configureLoggerForCLI(flagLevel, configLevel string) (warning string, err error) {
	candidates := []struct {
		value  string
		origin string
	}{
		{flagLevel, "--log-level"},
		{os.Getenv(logLevelEnvKey), logLevelEnvKey},
		{configLevel, "log_level"},
	}

	for i, c := range candidates {
		if strings.TrimSpace(c.value) == "" {
			continue
		}
		level, parseErr := parseLogLevel(c.value)
		if parseErr == nil {
			slog.SetDefault(newLogger(level))
			return "", nil
		}
		if i == 0 {
			return "", fmt.Errorf("invalid --log-level %q", c.value)
		}
		slog.SetDefault(newLogger(slog.LevelInfo))
		return fmt.Sprintf("warning: invalid %s=%q; defaulting to %s",
			c.origin, c.value, config.DefaultLogLevel), nil
	}

	slog.SetDefault(newLogger(slog.LevelInfo))
	return "", nil
}

// parseLogLevel accepts slog level names, "warning" as an alias for warn,
// and raw numeric levels.
func parseLogLevel(raw string) (slog.Level, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return slog.LevelInfo, nil
	}
	if strings.EqualFold(value, "warning") {
		value = "warn"
	}

	if numeric, err := strconv.Atoi(value); err == nil {
		return slog.Level(numeric), nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
	return level, nil
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
