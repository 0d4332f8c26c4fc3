package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vikashloomba/mcp-tool-client-go/pkg/mcpmgr"
	"github.com/vikashloomba/mcp-tool-client-go/pkg/registry"
)

func main() {
	registryPath := flag.String("registry", "servers.yaml", "path to the server registry file")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "log format (text, json)")
	execName := flag.String("exec", "", "qualified tool name to execute, e.g. Echo__ping")
	execArgs := flag.String("args", "{}", "JSON object of tool arguments")
	probeID := flag.String("probe", "", "server id to probe directly")
	flag.Parse()

	logger := setupLogger(*logLevel, *logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *registryPath, *execName, *execArgs, *probeID); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, registryPath, execName, execArgs, probeID string) error {
	reg, err := registry.Load(registryPath)
	if err != nil {
		return fmt.Errorf("loading registry: %w", err)
	}
	manager := mcpmgr.NewManager(reg, &mcpmgr.ManagerOptions{Logger: logger})
	defer manager.Close()

	switch {
	case probeID != "":
		report, err := manager.ProbeServer(ctx, probeID)
		if err != nil {
			return fmt.Errorf("probing %s: %w", probeID, err)
		}
		fmt.Printf("%s (%s) answered in %s with %d tools\n",
			report.Server.Name, mcpmgr.TransportOf(report.Server), report.Duration, len(report.Tools))
		printTools(report.Tools)
		return nil

	case execName != "":
		var args map[string]any
		if err := json.Unmarshal([]byte(execArgs), &args); err != nil {
			return fmt.Errorf("parsing -args: %w", err)
		}
		res, err := manager.ExecuteTool(ctx, execName, args)
		if err != nil {
			return err
		}
		if res.IsText() {
			fmt.Println(res.Text)
			return nil
		}
		out, err := json.MarshalIndent(res.Value(), "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	tools, err := manager.ListAvailableTools(ctx)
	if err != nil {
		return err
	}
	printTools(tools)
	return nil
}

func printTools(tools []mcpmgr.Tool) {
	for _, tool := range tools {
		fmt.Printf("%-40s %s\n", tool.Name, tool.Description)
	}
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
