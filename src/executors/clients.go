package executors

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coinpulse/src/connectors"
	"coinpulse/src/ledger"
	"coinpulse/src/repository"
	"coinpulse/src/security"
)

var (
	newExchangeClient = connectors.NewUpbitClient
	decryptCredential = security.DecryptString
)

// ClientFactory builds exchange clients from the encrypted credentials stored per user.
// Every client shares one rate limiter.
type ClientFactory struct {
	exchanges *repository.UserExchangeRepository
	cfg       connectors.Config
	limiter   *connectors.RateLimiter
}

func NewClientFactory(db *gorm.DB, cfg connectors.Config, limiter *connectors.RateLimiter) *ClientFactory {
	return &ClientFactory{
		exchanges: (&repository.UserExchangeRepository{}).WithDB(db),
		cfg:       cfg,
		limiter:   limiter,
	}
}

func (f *ClientFactory) Client(ctx context.Context, userID uint) (*connectors.UpbitClient, error) {
	ue, err := f.exchanges.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load credentials of user %d: %w", userID, err)
	}
	if ue == nil || ue.AccessKeyHash == "" || ue.SecretKeyHash == "" {
		return nil, fmt.Errorf("user %d: %w", userID, connectors.ErrMissingCredentials)
	}

	accessKey, err := decryptCredential(ue.AccessKeyHash)
	if err != nil {
		logger.WithField("user_id", userID).WithError(err).Error("Failed to decrypt access key")
		return nil, err
	}
	secretKey, err := decryptCredential(ue.SecretKeyHash)
	if err != nil {
		logger.WithField("user_id", userID).WithError(err).Error("Failed to decrypt secret key")
		return nil, err
	}
	return newExchangeClient(accessKey, secretKey, f.cfg, f.limiter), nil
}

// HistorySource adapts Client to the ledger's source factory.
func (f *ClientFactory) HistorySource(ctx context.Context, userID uint) (ledger.HistorySource, error) {
	c, err := f.Client(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c, nil
}
