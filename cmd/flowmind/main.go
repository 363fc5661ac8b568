// Package main is the entry point for the FlowMind CLI
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flowmind/flowmind/internal/config"
	"github.com/flowmind/flowmind/internal/conversation"
	"github.com/flowmind/flowmind/internal/db"
	"github.com/flowmind/flowmind/internal/events"
	"github.com/flowmind/flowmind/internal/graph"
	"github.com/flowmind/flowmind/internal/llm/client"
	"github.com/flowmind/flowmind/internal/task"
)

var (
	cfg    *config.Config
	userID int64
)

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "flowmind",
		Short: "AI-assisted task management and scheduling",
		Long: `FlowMind keeps your tasks, their dependencies and your schedule in a
local SQLite database and uses an AI provider (Grok or OpenAI) to parse
natural language into tasks, suggest time slots and surface productivity
insights. All AI features degrade gracefully when no API key is set.`,
		Version: "0.1.0",
	}

	rootCmd.PersistentFlags().Int64Var(&userID, "user", 1, "User ID to act as")

	rootCmd.AddCommand(
		initCmd(),
		addCmd(),
		nlCmd(),
		listCmd(),
		searchCmd(),
		showCmd(),
		updateCmd(),
		completeCmd(),
		deleteCmd(),
		dependCmd(),
		optimizeCmd(),
		insightsCmd(),
		analyticsCmd(),
		jobsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// findDataDir locates the .flowmind directory by searching upward
func findDataDir() (string, error) {
	if v := os.Getenv("FLOWMIND_DATABASE_PATH"); v != "" {
		return filepath.Dir(v), nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, ".flowmind")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a flowmind workspace (run 'flowmind init' first)")
		}
		dir = parent
	}
}

// requireStore opens the workspace database
func requireStore() (*db.Store, error) {
	dataDir, err := findDataDir()
	if err != nil {
		return nil, err
	}

	store, err := db.Open(filepath.Join(dataDir, "flowmind.db"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return store, nil
}

type app struct {
	store   *db.Store
	service *task.Service
	bus     *events.Bus
	logger  *slog.Logger
}

func (a *app) Close() {
	a.bus.Close()
	a.store.Close()
}

// buildApp wires the full service stack. AI is optional; without
// credentials the service runs with fallback behavior.
func buildApp() (*app, error) {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	store, err := requireStore()
	if err != nil {
		return nil, err
	}

	interactions, err := conversation.NewSQLiteStore(store.DB)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening interaction log: %w", err)
	}

	var ai task.Completer
	if cfg.HasAICredentials() {
		c, err := client.New(cfg.AI, logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("initializing AI client: %w", err)
		}
		ai = c
	} else {
		logger.Warn("no AI credentials configured, AI features degrade to fallbacks")
	}

	bus := events.NewBus()
	svc := task.New(store, graph.NewManager(store), ai, interactions, bus, logger)

	return &app{store: store, service: svc, bus: bus, logger: logger}, nil
}
