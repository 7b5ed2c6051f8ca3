package ledgersync

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
	"coinpulse/src/ledger"
)

// LedgerSync runs one full or incremental sync for a user and prints the result as JSON.
type LedgerSync struct {
	UserID    uint
	Full      bool
	Market    string
	MaxOrders int
	Out       io.Writer
}

func (l *LedgerSync) Start() error {
	if l.UserID == 0 {
		return errors.New("--user is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to main database")
		return err
	}

	eng, err := executors.NewEngine(database.MainDB, executors.GetConfig(), connectors.GetConfig(), nil)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{
		"cmd":     "sync",
		"user_id": l.UserID,
		"market":  l.Market,
		"full":    l.Full,
	})

	var res ledger.SyncResult
	if l.Full {
		res, err = eng.Syncer.FullSync(ctx, l.UserID, l.Market, l.MaxOrders)
	} else {
		res, err = eng.Syncer.IncrementalSync(ctx, l.UserID, l.Market)
	}
	if encErr := l.print(res); encErr != nil {
		log.WithError(encErr).Error("failed to print result")
	}
	if err != nil {
		log.WithError(err).Error("sync finished with error")
		return err
	}
	log.WithField("synced", res.SyncedCount).Info("sync finished")
	return nil
}

func (l *LedgerSync) print(v interface{}) error {
	out := l.Out
	if out == nil {
		out = os.Stdout
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
