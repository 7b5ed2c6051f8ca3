package keys

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// read when --access / --secret are not given
	AccessKey string `envconfig:"UPBIT_ACCESS_KEY"`
	SecretKey string `envconfig:"UPBIT_SECRET_KEY"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
