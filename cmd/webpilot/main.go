// Command webpilot extracts the interactive elements of a page and acts on
// them, once from the command line or as a long-running MCP or HTTP server.
//
// Usage:
//
//	webpilot -url https://example.com -state                   # print the element map
//	webpilot -url https://example.com -act '{"kind":"click","index":3}'
//	webpilot -config webpilot.yaml -mcp                        # MCP over stdio
//	webpilot -config webpilot.yaml -http                       # HTTP API
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/webpilot/domagent"
)

func main() {
	configPath := flag.String("config", "", "path to webpilot.yaml")
	pageURL := flag.String("url", "", "page to open")
	state := flag.Bool("state", false, "print the element map of -url and exit")
	act := flag.String("act", "", "JSON action to perform on -url after one extraction pass")
	mcpMode := flag.Bool("mcp", false, "serve MCP over stdio")
	httpMode := flag.Bool("http", false, "serve the HTTP API")
	remote := flag.String("remote", "", "DevTools websocket of a running Chrome (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := domagent.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = domagent.LoadConfigFile(*configPath); err != nil {
			logger.Error("webpilot: load config", "error", err)
			os.Exit(1)
		}
	}
	if *remote != "" {
		cfg.Browser.Remote = *remote
	}

	var err error
	switch {
	case *mcpMode:
		err = runMCP(ctx, logger, cfg, *pageURL)
	case *httpMode:
		err = runHTTP(ctx, logger, cfg, *pageURL)
	case *pageURL != "" && (*state || *act != ""):
		err = runOnce(ctx, logger, cfg, *pageURL, *act)
	default:
		fmt.Fprintln(os.Stderr, "usage: webpilot -url <url> -state | -url <url> -act <json> | -mcp | -http")
		os.Exit(2)
	}
	if err != nil {
		logger.Error("webpilot: fatal", "error", err)
		os.Exit(1)
	}
}

func start(ctx context.Context, logger *slog.Logger, cfg *domagent.Config, pageURL string) (*domagent.Agent, error) {
	a, err := domagent.Start(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if pageURL != "" {
		s, err := a.Open(ctx, pageURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("webpilot: page opened", "session", s.ID(), "url", pageURL)
	}
	return a, nil
}

// runOnce prints the element map, then the result of the optional action.
func runOnce(ctx context.Context, logger *slog.Logger, cfg *domagent.Config, pageURL, actJSON string) error {
	var req domagent.ActionRequest
	if actJSON != "" {
		if err := json.Unmarshal([]byte(actJSON), &req); err != nil {
			return fmt.Errorf("parse -act: %w", err)
		}
	}
	a, err := domagent.Start(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	s, err := a.Open(ctx, pageURL)
	if err != nil {
		return err
	}
	st, err := s.ExtractState(ctx)
	if err != nil {
		return err
	}
	fmt.Println(s.Text(st))
	if actJSON == "" {
		return nil
	}
	res, err := s.Perform(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runMCP(ctx context.Context, logger *slog.Logger, cfg *domagent.Config, pageURL string) error {
	a, err := start(ctx, logger, cfg, pageURL)
	if err != nil {
		return err
	}
	defer a.Close()
	srv := mcp.NewServer(&mcp.Implementation{Name: cfg.MCP.Name, Version: cfg.MCP.Version}, nil)
	a.RegisterMCP(srv)
	logger.Info("webpilot: serving MCP on stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

func runHTTP(ctx context.Context, logger *slog.Logger, cfg *domagent.Config, pageURL string) error {
	a, err := start(ctx, logger, cfg, pageURL)
	if err != nil {
		return err
	}
	defer a.Close()
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("webpilot: serving HTTP", "addr", cfg.HTTP.Addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return fmt.Errorf("http: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
