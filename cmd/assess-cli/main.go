package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/stemsi/exstem-assess/internal/backend"
	cliconfig "github.com/stemsi/exstem-assess/internal/cli/config"
	"github.com/stemsi/exstem-assess/internal/cli/repl"
	"github.com/stemsi/exstem-assess/internal/judge"
	"github.com/stemsi/exstem-assess/internal/logger"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/storage"
	"github.com/stemsi/exstem-assess/internal/validator"
	"github.com/stemsi/exstem-assess/internal/worker"
	"golang.org/x/term"
)

const defaultConfigPath = "assess-cli.yaml"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "assess-cli: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", defaultConfigPath, "config file path")
	linkID := pflag.String("link", "", "assessment link id")
	backendURL := pflag.String("backend", "", "override backend URL")
	judgeURL := pflag.String("judge", "", "override judge URL")
	statePath := pflag.String("state", "", "override state file path")
	logLevel := pflag.String("log-level", "", "override log level")
	yes := pflag.BoolP("yes", "y", false, "submit without asking for confirmation")
	pflag.Parse()

	cfg, err := cliconfig.Load(*configPath)
	if err != nil {
		return err
	}
	if *linkID != "" {
		cfg.LinkID = *linkID
	}
	if *backendURL != "" {
		cfg.BackendURL = *backendURL
	}
	if *judgeURL != "" {
		cfg.JudgeURL = *judgeURL
	}
	if *statePath != "" {
		cfg.StateFile = *statePath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *yes {
		cfg.AssumeYes = true
	}
	if cfg.LinkID == "" {
		return fmt.Errorf("an assessment link id is required, pass --link")
	}

	log := logger.SetupTo(os.Stderr, cfg.LogLevel, "pretty")
	validator.Setup()

	ctx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		// The REPL only notices cancellation between lines; a second
		// interrupt falls through to the default handler and quits.
		<-interrupts
		signal.Stop(interrupts)
		cancelRun()
		fmt.Fprintln(os.Stderr, "\ninterrupted, press Enter to leave or Ctrl-C again to quit")
	}()

	st, err := storage.NewFileStore(cfg.StateFile)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer st.Close()

	judgeClient := judge.NewClient(cfg.JudgeURL, cfg.JudgeTimeout, cfg.JudgePollInterval, cfg.JudgeMaxAttempts, log)
	backendClient := backend.NewClient(cfg.BackendURL, cfg.Timeout, cfg.SubmitTimeout, log)

	sessions := service.NewSessionManager(judgeClient, backendClient, st, service.Options{
		DefaultLanguageID: cfg.DefaultLanguageID,
		ViolationLimit:    cfg.ViolationLimit,
	}, log)
	defer sessions.Close()

	loadCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	session, err := sessions.Open(loadCtx, cfg.LinkID)
	cancel()
	if err != nil {
		return fmt.Errorf("load assessment: %w", err)
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	statusSync := worker.NewStatusSyncWorker(st, backendClient, log)
	go func() {
		defer close(workerDone)
		statusSync.Start(workerCtx)
	}()
	defer func() {
		workerCancel()
		select {
		case <-workerDone:
		case <-time.After(5 * time.Second):
		}
	}()

	r := repl.New(session, os.Stdin, os.Stdout, repl.Options{
		AssumeYes:   cfg.AssumeYes,
		Interactive: term.IsTerminal(int(os.Stdin.Fd())),
	})
	return r.Run(ctx)
}
