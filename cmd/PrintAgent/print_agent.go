// Package main is the entry point of the print agent. The agent is a
// service that receives print jobs over WebSocket (local clients or a
// remote relay) and prints HTML and PDF documents on the local printers.
package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/judwhite/go-svc"
	"github.com/urfave/cli/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/adcondev/print-agent/internal/config"
	"github.com/adcondev/print-agent/internal/daemon"
)

func main() {
	app := &cli.Command{
		Name:    "print-agent",
		Usage:   "print HTML and PDF jobs received over WebSocket",
		Version: config.BuildDate + " " + config.BuildTime + " (" + config.BuildEnvironment + ")",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "console",
				Usage: "run in console mode (not as service)",
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "settings file path",
				Value:   "print-agent.yaml",
				Sources: cli.EnvVars(config.EnvPrefix + "CONFIG"),
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment variables file path",
				Value: ".env",
			},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:      "hash-password",
				Usage:     "print the base64 bcrypt hash to inject as the dashboard password",
				ArgsUsage: "<password>",
				Action:    hashPassword,
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	prg := &daemon.Program{
		Console:    cmd.Bool("console"),
		ConfigPath: cmd.String("config"),
		EnvFile:    cmd.String("env"),
	}

	if prg.Console || isInteractive() {
		prg.Console = true
		return runConsole(ctx, prg)
	}
	return svc.Run(prg, syscall.SIGINT, syscall.SIGTERM)
}

// runConsole runs the program in console mode
func runConsole(ctx context.Context, prg *daemon.Program) error {
	if err := prg.Init(nil); err != nil {
		return fmt.Errorf("init failed: %w", err)
	}
	if err := prg.Start(); err != nil {
		_ = prg.Stop()
		return fmt.Errorf("start failed: %w", err)
	}

	fmt.Println("Print agent running in console mode. Press Ctrl+C to stop.")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	return prg.Stop()
}

func hashPassword(_ context.Context, cmd *cli.Command) error {
	password := cmd.Args().First()
	if password == "" {
		return errors.New("password argument is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Println(base64.StdEncoding.EncodeToString(hash))
	return nil
}

// isInteractive checks if running from a terminal (not as service)
func isInteractive() bool {
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
