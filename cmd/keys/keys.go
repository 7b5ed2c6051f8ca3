package keys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	logger "github.com/sirupsen/logrus"

	"coinpulse/src/database"
	"coinpulse/src/model"
	"coinpulse/src/repository"
	"coinpulse/src/security"
)

// Keys encrypts a pair of exchange credentials. With a UserID they are stored on the
// user's exchange row, otherwise the ciphertexts are printed.
type Keys struct {
	UserID uint
	Access string
	Secret string
	Out    io.Writer
}

func (k *Keys) Start() error {
	config := GetConfig()
	if k.Access == "" {
		k.Access = config.AccessKey
	}
	if k.Secret == "" {
		k.Secret = config.SecretKey
	}
	if k.Access == "" || k.Secret == "" {
		return errors.New("access and secret keys are required")
	}

	encryptKey, err := security.EncryptString(k.Access)
	if err != nil {
		logger.WithError(err).Error("Failed to encrypt key")
		return err
	}
	encryptSecret, err := security.EncryptString(k.Secret)
	if err != nil {
		logger.WithError(err).Error("Failed to encrypt secret")
		return err
	}

	if k.UserID == 0 {
		out := k.Out
		if out == nil {
			out = os.Stdout
		}
		_, err := fmt.Fprintf(out, "access_key=%s\nsecret_key=%s\n", encryptKey, encryptSecret)
		return err
	}

	if err := database.InitMainDB(); err != nil {
		logger.WithError(err).Error("Failed to connect to main database")
		return err
	}
	userExchangeRep := repository.NewUserExchangeRepository()
	if err := userExchangeRep.Upsert(context.Background(), &model.UserExchange{
		UserID:        k.UserID,
		AccessKeyHash: encryptKey,
		SecretKeyHash: encryptSecret,
	}); err != nil {
		logger.WithError(err).Error("Failed to upsert user exchange")
		return err
	}
	logger.WithField("user_id", k.UserID).Info("exchange credentials stored")
	return nil
}
