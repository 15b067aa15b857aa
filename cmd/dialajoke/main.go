package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialajoke/internal/app"
	"dialajoke/internal/config"

	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli"
)

const stopTimeout = 15 * time.Second

var (
	cfgPath string
	envFile string

	globalFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "path to the config file (yaml or json)",
			EnvVar:      "DIALAJOKE_CONFIG",
			Value:       "config.yaml",
			Destination: &cfgPath,
		},
		cli.StringFlag{
			Name:        "env-file",
			Usage:       "dotenv file loaded before the config (default: ./.env when present)",
			Destination: &envFile,
		},
	}
)

func main() {
	a := cli.App{
		Name:      "dialajoke",
		HelpName:  "dialajoke",
		Usage:     "schedule phone calls that read a joke to whoever picks up",
		UsageText: "dialajoke [global options] [command]",
		Flags:     globalFlags,
		Before:    loadEnv,
		Action:    serve,
		Commands: []cli.Command{
			{
				Name:   "serve",
				Usage:  "run the web UI, webhook receiver and call scheduler",
				Action: serve,
			},
			{
				Name:   "check-config",
				Usage:  "validate the config file and exit",
				Action: checkConfig,
			},
		},
	}
	if err := a.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func loadEnv(*cli.Context) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return fmt.Errorf("env file: %w", err)
	}
	return nil
}

func checkConfig(*cli.Context) error {
	if err := app.CheckConfig(cfgPath); err != nil {
		return err
	}
	fmt.Printf("%s: ok\n", cfgPath)
	return nil
}

func serve(*cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if ctx.Err() == nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return multierror.Append(a.Err(), stopErr).ErrorOrNil()
	}
	return stopErr
}
