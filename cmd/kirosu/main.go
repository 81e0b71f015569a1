package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taituo/kirosu/internal/config"
	"github.com/taituo/kirosu/internal/hub"
	"github.com/taituo/kirosu/internal/logging"
	"github.com/taituo/kirosu/internal/store"
	"github.com/taituo/kirosu/internal/worker"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "kirosu",
		Short: "Kirosu - distributed task dispatch for LLM worker-agent swarms",
		Long: `Kirosu is a Hub + Worker Agent system for dispatching prompts to a
swarm of LLM-backed workers over a durable, lease-based task queue.

  kirosu hub              Start the swarm hub
  kirosu agent            Start a worker agent, polling the hub for tasks
  kirosu enqueue <prompt>  Submit a task
  kirosu status           List tasks and queue stats
  kirosu approve <id>     Approve a human-gated task
  kirosu retry-failed     Requeue every failed task`,
	}

	rootCmd.AddCommand(
		versionCmd(),
		hubCmd(),
		agentCmd(),
		enqueueCmd(),
		statusCmd(),
		approveCmd(),
		retryFailedCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		printErrorJSON(err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(map[string]any{"version": version, "go": "1.23"})
		},
	}
}

func hubCmd() *cobra.Command {
	var host string
	var port int
	var dbPath string
	var leaseSeconds int

	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Start the swarm hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = cfg.DatabasePath
			}

			log, err := logging.New("hub", false, "")
			if err != nil {
				return err
			}

			st, err := store.Open(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open store at %s: %w", dbPath, err)
			}
			defer st.Close()

			srv := hub.New(hub.Config{
				Host:         host,
				Port:         port,
				AuthToken:    os.Getenv("KIRO_SWARM_KEY"),
				LeaseSeconds: leaseSeconds,
			}, st, log)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Hub host")
	cmd.Flags().IntVar(&port, "port", 8765, "Hub port")
	cmd.Flags().StringVar(&dbPath, "db", "", "Database path (defaults to config)")
	cmd.Flags().IntVar(&leaseSeconds, "lease-seconds", 300, "Task lease duration")
	return cmd
}

func agentCmd() *cobra.Command {
	var host string
	var port int
	var model string
	var logFile string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Start a worker agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if model == "" {
				model = cfg.Model
			}
			workdir := cfg.Workdir

			log, err := logging.New("agent", verbose, logFile)
			if err != nil {
				return err
			}

			a, err := worker.New(worker.Config{
				HubAddr:      fmt.Sprintf("%s:%d", host, port),
				AuthToken:    os.Getenv("KIRO_SWARM_KEY"),
				Model:        model,
				Workdir:      workdir,
				ProviderName: os.Getenv("KIRO_PROVIDER"),
				PollInterval: time.Second,
				LeaseSeconds: cfg.HubLeaseSeconds,
			}, log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			a.Run(ctx)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Hub host")
	cmd.Flags().IntVar(&port, "port", 8765, "Hub port")
	cmd.Flags().StringVar(&model, "model", "", "Model override")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Optional log file")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Debug-level logging")
	return cmd
}

func enqueueCmd() *cobra.Command {
	var host string
	var port int
	var systemPrompt string
	var taskType string

	cmd := &cobra.Command{
		Use:   "enqueue <prompt>",
		Short: "Submit a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := dialClient(host, port)
			defer client.Close()

			params := map[string]any{"prompt": args[0]}
			if systemPrompt != "" {
				params["system_prompt"] = systemPrompt
			}
			if taskType != "" {
				params["type"] = taskType
			}

			result, err := client.Call("enqueue", params)
			if err != nil {
				return err
			}
			return printRaw(result)
		},
	}

	cmd.Flags().StringVar(&host, "host", defaultHost(), "Hub host")
	cmd.Flags().IntVar(&port, "port", defaultPort(), "Hub port")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "Optional system prompt")
	cmd.Flags().StringVar(&taskType, "type", "", "Task type (default chat)")
	return cmd
}

func statusCmd() *cobra.Command {
	var host string
	var port int
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List tasks and queue stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := dialClient(host, port)
			defer client.Close()

			params := map[string]any{"limit": limit}
			if status != "" {
				params["status"] = status
			}

			result, err := client.Call("list", params)
			if err != nil {
				return err
			}
			return printRaw(result)
		},
	}

	cmd.Flags().StringVar(&host, "host", defaultHost(), "Hub host")
	cmd.Flags().IntVar(&port, "port", defaultPort(), "Hub port")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Row limit (<=0 means unbounded)")
	return cmd
}

func approveCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "approve <task_id>",
		Short: "Approve a human-gated task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var taskID int64
			if _, err := fmt.Sscanf(args[0], "%d", &taskID); err != nil {
				return fmt.Errorf("invalid task id %q: %w", args[0], err)
			}

			client := dialClient(host, port)
			defer client.Close()

			result, err := client.Call("approve", map[string]any{"task_id": taskID})
			if err != nil {
				return err
			}
			return printRaw(result)
		},
	}

	cmd.Flags().StringVar(&host, "host", defaultHost(), "Hub host")
	cmd.Flags().IntVar(&port, "port", defaultPort(), "Hub port")
	return cmd
}

func retryFailedCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "retry-failed",
		Short: "Requeue every failed task",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := dialClient(host, port)
			defer client.Close()

			result, err := client.Call("retry_all_failed", map[string]any{})
			if err != nil {
				return err
			}
			return printRaw(result)
		},
	}

	cmd.Flags().StringVar(&host, "host", defaultHost(), "Hub host")
	cmd.Flags().IntVar(&port, "port", defaultPort(), "Hub port")
	return cmd
}

func dialClient(host string, port int) *worker.HubClient {
	return worker.NewHubClient(fmt.Sprintf("%s:%d", host, port), os.Getenv("KIRO_SWARM_KEY"))
}

func defaultHost() string {
	return firstNonEmpty(os.Getenv("KIRO_SWARM_HOST"), "127.0.0.1")
}

func defaultPort() int {
	if v := os.Getenv("KIRO_SWARM_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			return port
		}
	}
	return 8765
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func printJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func printRaw(data json.RawMessage) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return printJSON(v)
}

func printErrorJSON(err error) {
	_ = printJSON(map[string]any{"error": err.Error()})
}
