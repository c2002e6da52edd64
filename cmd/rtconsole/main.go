// Command rtconsole is a terminal voice console for realtime conversation
// models.
//
//	rtconsole [console] [flags]   interactive session (default)
//	rtconsole relay [flags]       serve browser consoles without exposing the key
//	rtconsole monitor [flags]     print the event log of a headless WebRTC session
//
// Credentials come from OPENAI_API_KEY or the AZURE_OPENAI_* variables, also
// read from a .env file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/enesunal-m/rtconsole"
)

func main() {
	_ = godotenv.Load()
	logger := rtconsole.NewLoggerFromEnv()
	logger.SetComponent("rtconsole")

	name, args := "console", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		name, args = args[0], args[1:]
	}

	var run func(context.Context, rtconsole.Config, *rtconsole.Logger, []string) error
	switch name {
	case "console":
		run = runConsole
	case "relay":
		run = runRelay
	case "monitor":
		run = runMonitor
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want console, relay or monitor)\n", name)
		os.Exit(2)
	}

	cfg := rtconsole.ConfigFromEnv()
	if err := rtconsole.ValidateConfig(cfg); err != nil {
		logger.Error("invalid_config", map[string]any{"err": err})
		if errors.Is(err, rtconsole.ErrMissingCredential) {
			fmt.Fprintf(os.Stderr, "set %s, or %s and %s\n", rtconsole.EnvOpenAIKey, rtconsole.EnvAzureEndpoint, rtconsole.EnvAzureKey)
		}
		os.Exit(1)
	}
	cfg.StructuredLogger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, args); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("command_failed", map[string]any{"command": name, "err": err})
		stop()
		os.Exit(1)
	}
}
