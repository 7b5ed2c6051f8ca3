package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"coinpulse/src/connectors"
	"coinpulse/src/database"
	"coinpulse/src/executors"
	"coinpulse/src/notify"
)

// Cycle runs one trading cycle for a user and prints the report as JSON.
type Cycle struct {
	UserID uint
	DryRun bool
	Out    io.Writer
}

func (c *Cycle) Start() error {
	if c.UserID == 0 {
		return errors.New("--user is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to main database")
		return err
	}

	config := executors.GetConfig()
	if c.DryRun {
		config.DryRun = true
	}
	notifier := notify.FromConfig(notify.GetConfig())
	eng, err := executors.NewEngine(database.MainDB, config, connectors.GetConfig(), notifier)
	if err != nil {
		return err
	}

	o, err := eng.Orchestrator(ctx, c.UserID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", c.UserID).Error("cannot build trading cycle")
		return err
	}
	report, err := o.RunCycle(ctx)
	if w, ok := notifier.(interface{ Wait() }); ok {
		w.Wait()
	}
	if err != nil {
		logrus.WithError(err).WithField("user_id", c.UserID).Error("cycle not executed")
		return err
	}

	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
