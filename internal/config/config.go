package config

import (
	"fmt"
)

type Config struct {
	ServerAddr     string
	DataDir        string
	AdminSecret    string
	AllowedOrigins []string
}

func NewConfig(serverAddr, dataDir, adminSecret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}
	if adminSecret == "" {
		return nil, fmt.Errorf("admin secret cannot be empty")
	}

	return &Config{
		ServerAddr:     serverAddr,
		DataDir:        dataDir,
		AdminSecret:    adminSecret,
		AllowedOrigins: allowedOrigins,
	}, nil
}
