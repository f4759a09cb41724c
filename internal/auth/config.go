package auth

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	AdminSecret string `mapstructure:"ADMIN_SECRET"`
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.BindEnv("ADMIN_SECRET")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: using only environment variables for auth: %v\n", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal config: %w", err)
	}

	return &cfg, nil
}
