package executors

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"coinpulse/src/connectors"
	"coinpulse/src/database"
	"coinpulse/src/notify"
	"coinpulse/src/server"
)

// StartLoop runs the scheduler and the status server on the main database until ctx is done.
func StartLoop(ctx context.Context) error {
	if database.MainDB == nil {
		return errors.New("main database is not initialized")
	}
	config := GetConfig()

	engine, err := NewEngine(database.MainDB, config, connectors.GetConfig(), notify.FromConfig(notify.GetConfig()))
	if err != nil {
		logger.WithError(err).Error("Failed to build engine")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"dry_run":        config.DryRun,
		"cycle_interval": config.CycleInterval.String(),
		"sync_interval":  config.SyncInterval.String(),
	}).Info("engine starting")

	srvConfig := server.GetConfig()
	router := server.NewRouter(server.Deps{
		Users:     engine.Users,
		Positions: engine.Store,
		Syncer:    engine.Syncer,
		Orders:    engine.Orders,
		Triggers:  engine.Scheduler,
	}, srvConfig.AdminToken)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		engine.Scheduler.Start(gctx)
		engine.Scheduler.Wait()
		return nil
	})
	g.Go(func() error {
		return server.StartServer(gctx, srvConfig.Port, router)
	})

	err = g.Wait()
	if w, ok := engine.Notifier.(interface{ Wait() }); ok {
		w.Wait()
	}
	logger.Info("engine stopped")
	return err
}
