package config

import (
	"os"
	"time"
)

// Agent captures the agent binary's configuration.
type Agent struct {
	Addr                 string
	ProviderBaseURL      string
	ProbeURL             string
	TokenPath            string
	Language             string
	OfflineMode          bool
	RefreshInterval      time.Duration
	RefreshThreshold     time.Duration
	SessionTimeout       time.Duration
	WarningThreshold     time.Duration
	OfflineTokenValidity time.Duration
}

// FromEnv builds an Agent config from environment variables so main stays lean.
func FromEnv() Agent {
	cfg := Agent{
		Addr:                 getenv("AUTHCORE_ADDR", ":8080"),
		ProviderBaseURL:      getenv("AUTHCORE_PROVIDER_URL", "http://localhost:9090"),
		ProbeURL:             getenv("AUTHCORE_PROBE_URL", "https://clients3.google.com/generate_204"),
		TokenPath:            getenv("AUTHCORE_TOKEN_PATH", ".authcore/tokens"),
		Language:             getenv("AUTHCORE_LANGUAGE", "en"),
		OfflineMode:          os.Getenv("AUTHCORE_OFFLINE_MODE") == "true",
		RefreshInterval:      getduration("AUTHCORE_REFRESH_INTERVAL", 5*time.Minute),
		RefreshThreshold:     getduration("AUTHCORE_REFRESH_THRESHOLD", 10*time.Minute),
		SessionTimeout:       getduration("AUTHCORE_SESSION_TIMEOUT", 30*time.Minute),
		WarningThreshold:     getduration("AUTHCORE_WARNING_THRESHOLD", 5*time.Minute),
		OfflineTokenValidity: getduration("AUTHCORE_OFFLINE_VALIDITY", 24*time.Hour),
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if duration, err := time.ParseDuration(v); err == nil {
			return duration
		}
	}
	return fallback
}
