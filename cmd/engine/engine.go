package engine

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"coinpulse/src/connectors"
	"coinpulse/src/database"
	"coinpulse/src/executors"
	"coinpulse/src/notify"
	"coinpulse/src/scheduler"
	"coinpulse/src/server"
)

type Engine struct {
	// ServeOnly runs the status server without the scheduled loops.
	ServeOnly bool
}

func (e *Engine) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to main database")
		return err
	}

	if !e.ServeOnly {
		if err := executors.StartLoop(ctx); err != nil {
			logrus.WithError(err).Error("Engine loop failed")
			return err
		}
		return nil
	}
	return serve(ctx)
}

// onDemand runs a sync pass in the background for every trigger; nothing is scheduled.
type onDemand struct {
	*scheduler.Scheduler
	ctx context.Context
}

func (o onDemand) TriggerIncrementalSync() bool {
	go func() {
		if _, err := o.SyncAll(o.ctx); err != nil {
			logrus.WithError(err).Warn("on-demand sync did not run")
		}
	}()
	return true
}

func serve(ctx context.Context) error {
	eng, err := executors.NewEngine(database.MainDB, executors.GetConfig(), connectors.GetConfig(), notify.FromConfig(notify.GetConfig()))
	if err != nil {
		return err
	}
	cfg := server.GetConfig()
	router := server.NewRouter(server.Deps{
		Users:     eng.Users,
		Positions: eng.Store,
		Syncer:    eng.Syncer,
		Orders:    eng.Orders,
		Triggers:  onDemand{Scheduler: eng.Scheduler, ctx: ctx},
	}, cfg.AdminToken)
	return server.StartServer(ctx, cfg.Port, router)
}
