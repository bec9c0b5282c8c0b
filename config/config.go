package config

import "log"

type Config struct {
	EnvConfig *EnvConfig
	Dispatch  *DispatchConfig
}

func NewConfig() *Config {
	env := LoadEnvConfig()
	dispatch, err := LoadDispatchConfig()
	if err != nil {
		log.Fatalf("Invalid dispatch configuration: %v", err)
	}
	return &Config{
		EnvConfig: env,
		Dispatch:  dispatch,
	}
}
