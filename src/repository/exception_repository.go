package repository

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"coinpulse/src/database"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coinpulse/src/model"
)

// ExceptionRepository handles persistence of system exceptions.
type ExceptionRepository struct {
	db *gorm.DB
}

// NewExceptionRepository creates a new repository instance.
func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{
		db: database.MainDB,
	}
}

func (r *ExceptionRepository) WithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create persists a new exception in the database.
func (r *ExceptionRepository) Create(
	ctx context.Context,
	exc *model.Exception,
) error {

	logger.WithFields(map[string]interface{}{
		"service": exc.Service,
		"module":  exc.Module,
		"method":  exc.Method,
		"level":   exc.Level,
	}).Error("Persisting system exception")

	return r.db.WithContext(ctx).Create(exc).Error
}

// Capture records a system exception, logs it locally, and persists it when the
// repository has a database. A nil repository only logs.
func (r *ExceptionRepository) Capture(
	ctx context.Context,
	service string,
	module string,
	method string,
	level string,
	userID uint,
	err error,
	contextData map[string]interface{},
) {

	if err == nil {
		return
	}

	var ctxJSON string
	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		Service:   service,
		Module:    module,
		Method:    method,
		UserID:    userID,
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     level,
		Context:   ctxJSON,
		CreatedAt: time.Now(),
	}

	// Local log
	logger.WithFields(map[string]interface{}{
		"service": service,
		"module":  module,
		"method":  method,
		"level":   level,
		"user_id": userID,
	}).WithError(err).Error("System exception captured")

	if r == nil || r.db == nil {
		return
	}
	// the caller's context may already be cancelled
	if e := r.Create(context.WithoutCancel(ctx), exc); e != nil {
		logger.WithError(e).Error("Failed to persist exception")
	}
}
