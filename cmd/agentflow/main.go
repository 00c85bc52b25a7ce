// Command agentflow runs the event-driven agent-command orchestration engine:
// queued trigger events are routed to agent commands, tool clients are
// provisioned per session, and execution requests are dispatched to the
// outbound channel behind a circuit breaker.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"agentflow/pkg/breaker"
	"agentflow/pkg/config"
	"agentflow/pkg/eventlog"
	"agentflow/pkg/handlers"
	"agentflow/pkg/health"
	"agentflow/pkg/logx"
	"agentflow/pkg/metrics"
	"agentflow/pkg/queue"
	"agentflow/pkg/router"
	"agentflow/pkg/tools"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to the engine config file")
	commandsPath := flag.String("commands", "", "Path to the agent-command catalog (overrides config)")
	encryptSecrets := flag.String("encrypt-secrets", "", "Encrypt the given plaintext JSON secrets file and exit")
	flag.Parse()

	logger := logx.NewLogger("agentflow")

	if *encryptSecrets != "" {
		if err := runEncryptSecrets(*encryptSecrets); err != nil {
			logger.Error("Failed to encrypt secrets: %v", err)
			os.Exit(1)
		}
		return
	}

	if err := run(logger, *configPath, *commandsPath); err != nil {
		logger.Error("Fatal: %v", err)
		os.Exit(1)
	}
}

func run(logger *logx.Logger, configPath, commandsPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if commandsPath == "" {
		commandsPath = cfg.CommandsFile
	}
	commands, err := config.LoadCommands(commandsPath)
	if err != nil {
		return err
	}
	logger.Info("Loaded %d agent commands from %s", len(commands), commandsPath)

	if err := unlockSecrets(logger); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(registry)

	eventLog, err := eventlog.NewWriter(cfg.EventLogPath)
	if err != nil {
		return err
	}

	queues := queue.NewService(cfg.Queues.Capacity, cfg.OfferTimeout())
	retry := queue.NewRetryHandler(queues, queue.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.BaseDelay(),
		MaxDelay:    cfg.MaxDelay(),
		Exponential: cfg.Retry.ExponentialBackoff,
	}, recorder, eventLog)

	manager := tools.NewClientManager(cfg.ToolRequestTimeout())
	toolRegistry := tools.NewRegistry(cfg.Tools.BlockedTools)

	cb := breaker.New(breaker.Config{
		FailureThreshold:         cfg.Breaker.FailureThreshold,
		CooldownPeriod:           cfg.Cooldown(),
		HalfOpenSuccessThreshold: cfg.Breaker.HalfOpenSuccessThreshold,
	}, recorder)

	dispatcher := handlers.NewQueueDispatcher(queues, cfg.Queues.OutboundQueue)
	publisher := queue.NewPublisher(queues)

	handlerRegistry := router.NewHandlerRegistry()
	handlerRegistry.Register(router.HandlerNotification, handlers.NewNotificationHandler(dispatcher, cb, toolRegistry, config.Environment))
	handlerRegistry.Register(router.HandlerCleanup, handlers.NewCleanupHandler(publisher, cfg.Queues.OutboundQueue))

	eventRouter, err := router.New(router.Options{
		Commands:      commands,
		Handlers:      handlerRegistry,
		Provisioner:   manager,
		Registry:      toolRegistry,
		Env:           config.Environment,
		WorkspaceRoot: cfg.WorkspaceRoot,
		Metrics:       recorder,
		Audit:         eventLog,
		Attempts:      retry,
	})
	if err != nil {
		return err
	}

	// Both consumed queues route through the same router: trigger events on
	// the event queue, remote-agent responses (including end-of-flow cleanup
	// messages) on the response queue.
	consumer := queue.NewConsumer(queues, retry, eventRouter, queue.ConsumerConfig{
		WorkersPerQueue: map[string]int{
			cfg.Queues.EventQueue:    cfg.Queues.WorkersPerQueue,
			cfg.Queues.ResponseQueue: cfg.Queues.WorkersPerQueue,
		},
		PollTimeout: cfg.PollTimeout(),
	}, recorder)

	healthServer := health.NewServer(cfg.HealthAddr, queues, cb, registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := consumer.Start(ctx); err != nil {
		return err
	}
	healthServer.Start()
	logger.Info("Engine started: event queue %s, %d workers", cfg.Queues.EventQueue, cfg.Queues.WorkersPerQueue)

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	// Shutdown order: drain consumers first, then fail-fast the queues, then
	// close tool clients, the health surface, and finally the audit log.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := consumer.Stop(shutdownCtx); err != nil {
		logger.Warn("Consumer shutdown incomplete: %v", err)
	}
	queues.Shutdown()
	manager.Shutdown()
	if err := healthServer.Stop(shutdownCtx); err != nil {
		logger.Warn("Health server shutdown failed: %v", err)
	}
	if err := eventLog.Close(); err != nil {
		logger.Warn("Failed to close event log: %v", err)
	}

	logger.Info("Shutdown complete")
	return nil
}

// unlockSecrets decrypts the project secrets file into memory when one
// exists, prompting for the password without echo.
func unlockSecrets(logger *logx.Logger) error {
	projectDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine project directory: %w", err)
	}
	if !config.SecretsFileExists(projectDir) {
		logger.Debug("No secrets file found, using environment only")
		return nil
	}

	password, err := promptPassword("Secrets password: ")
	if err != nil {
		return err
	}

	secrets, err := config.DecryptSecretsFile(projectDir, password)
	if err != nil {
		return err
	}
	config.SetDecryptedSecrets(secrets)
	logger.Info("Unlocked %d secrets", len(secrets))
	return nil
}

// runEncryptSecrets reads a plaintext JSON secrets file, prompts twice for a
// password, and writes the encrypted secrets file for the current directory.
func runEncryptSecrets(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read secrets input %s: %w", path, err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("failed to parse secrets input %s: %w", path, err)
	}

	password, err := promptPassword("New secrets password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	projectDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine project directory: %w", err)
	}
	if err := config.EncryptSecretsFile(projectDir, password, secrets); err != nil {
		return err
	}
	fmt.Printf("Encrypted %d secrets\n", len(secrets))
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}
