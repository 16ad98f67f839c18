package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"

	"github.com/DeusData/bep-artifacts-mcp/internal/bepparser"
	"github.com/DeusData/bep-artifacts-mcp/internal/config"
	"github.com/DeusData/bep-artifacts-mcp/internal/intern"
	"github.com/DeusData/bep-artifacts-mcp/internal/tools"
	"github.com/DeusData/bep-artifacts-mcp/internal/watcher"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch args[0] {
		case "--version":
			fmt.Fprintln(stdout, "bep-artifacts-mcp", version)
			return 0
		case "parse":
			return runParse(args[1:], stdout, stderr)
		}
	}
	return runServer(args, stderr)
}

// setup parses the shared flags, loads the config and installs the logger.
// Logs always go to stderr: stdout carries the MCP protocol or command output.
func setup(fs *pflag.FlagSet, args []string, stderr io.Writer) (*config.Config, error) {
	flags := config.RegisterFlags(fs)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := flags.Load()
	if err != nil {
		return nil, err
	}
	logger, err := cfg.NewLogger(stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cfg, nil
}

func parseOptions(cfg *config.Config) bepparser.Options {
	opts := bepparser.Options{Throttle: cfg.Throttle()}
	if cfg.EffectiveInternStrings() {
		opts.Interner = intern.New()
	}
	return opts
}

func runServer(args []string, stderr io.Writer) int {
	fs := pflag.NewFlagSet("bep-artifacts-mcp", pflag.ContinueOnError)
	cfg, err := setup(fs, args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tools.Version = version
	srv := tools.NewServer(parseOptions(cfg))

	if len(cfg.Watch.Dirs) > 0 {
		w := watcher.New(cfg.Watch.Dirs, srv.Ingest)
		slog.Info("watcher.start", "dirs", w.Dirs())
		go w.Run(ctx)
	}

	slog.Info("server.start", "version", version,
		"pooling", cfg.EffectivePoolingEnabled(),
		"max_concurrent_parses", cfg.EffectiveMaxConcurrentParses())
	if err := srv.MCPServer().Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		slog.Error("server.run", "err", err)
		return 1
	}
	return 0
}
