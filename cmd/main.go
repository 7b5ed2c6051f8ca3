package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"coinpulse/cmd/cycle"
	"coinpulse/cmd/engine"
	"coinpulse/cmd/keys"
	"coinpulse/cmd/ledgersync"
	"coinpulse/src/database"
)

var Version string

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()
	setupLogger()

	app := cli.NewApp()
	app.Name = "coinpulse"
	app.Usage = "Spot trading engine with order ledger reconciliation"
	app.Version = Version

	app.Commands = []cli.Command{
		engineCMD,
		serveCMD,
		syncCMD,
		cycleCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger() {
	config := database.GetConfig()

	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(config.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

var (
	engineCMD = cli.Command{
		Name:        "engine",
		Usage:       "run the scheduler and the status server",
		Action:      engineAction,
		Description: `Runs ledger sync and one trading cycle loop per enabled user until interrupted.`,
	}
	serveCMD = cli.Command{
		Name:        "serve",
		Usage:       "run only the status server",
		Action:      serveAction,
		Description: `Serves status queries and manual triggers without scheduled loops.`,
	}
	syncCMD = cli.Command{
		Name:   "sync",
		Usage:  "sync the order ledger of one user",
		Action: syncAction,
		Flags: []cli.Flag{
			cli.UintFlag{Name: "user", Usage: "user id"},
			cli.BoolFlag{Name: "full", Usage: "page through the whole history instead of the new orders"},
			cli.StringFlag{Name: "market", Usage: "limit the sync to one market"},
			cli.IntFlag{Name: "max", Value: 2000, Usage: "maximum orders for a full sync"},
		},
	}
	cycleCMD = cli.Command{
		Name:   "cycle",
		Usage:  "run one trading cycle for one user",
		Action: cycleAction,
		Flags: []cli.Flag{
			cli.UintFlag{Name: "user", Usage: "user id"},
			cli.BoolFlag{Name: "dry-run", Usage: "simulate fills instead of placing orders"},
		},
	}
	keysCMD = cli.Command{
		Name:   "keys",
		Usage:  "encrypt exchange credentials",
		Action: keysAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "access", Usage: "exchange access key"},
			cli.StringFlag{Name: "secret", Usage: "exchange secret key"},
			cli.UintFlag{Name: "user", Usage: "store the encrypted keys for this user id"},
		},
	}
)

func engineAction(_ *cli.Context) error {
	logrus.WithField("cmd", "engine").Info("Starting engine CMD")
	e := &engine.Engine{}
	if err := e.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func serveAction(_ *cli.Context) error {
	logrus.WithField("cmd", "serve").Info("Starting serve CMD")
	e := &engine.Engine{ServeOnly: true}
	if err := e.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func syncAction(c *cli.Context) error {
	logrus.WithField("cmd", "sync").Info("Starting ledger sync CMD")
	s := &ledgersync.LedgerSync{
		UserID:    c.Uint("user"),
		Full:      c.Bool("full"),
		Market:    c.String("market"),
		MaxOrders: c.Int("max"),
		Out:       os.Stdout,
	}
	return s.Start()
}

func cycleAction(c *cli.Context) error {
	logrus.WithField("cmd", "cycle").Info("Starting cycle CMD")
	cy := &cycle.Cycle{
		UserID: c.Uint("user"),
		DryRun: c.Bool("dry-run"),
		Out:    os.Stdout,
	}
	return cy.Start()
}

func keysAction(c *cli.Context) error {
	k := &keys.Keys{
		UserID: c.Uint("user"),
		Access: c.String("access"),
		Secret: c.String("secret"),
		Out:    os.Stdout,
	}
	return k.Start()
}
