package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/pkg/env"
	"github.com/google/uuid"
)

type ServerConfig struct {
	Addr        string
	CORSOrigins string
	IdleTimeout time.Duration
}

func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:        env.GetEnv("HTTP_ADDR", ":8080"),
		CORSOrigins: env.GetEnv("CORS_ORIGINS", "http://localhost:3000"),
		IdleTimeout: env.GetEnvDuration("HTTP_IDLE_TIMEOUT", 5*time.Second),
	}
}

type ProvisionConfig struct {
	// WorkerID prefixes lease owners so a takeover is attributable.
	WorkerID       string
	StageTimeout   time.Duration
	LeaseTTL       time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NewProvisionConfig reads the orchestrator settings. It rejects a lease
// that a single stage could outlive.
func NewProvisionConfig() (*ProvisionConfig, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "provisioner"
	}
	cfg := &ProvisionConfig{
		WorkerID:       env.GetEnv("PROVISION_WORKER_ID", fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])),
		StageTimeout:   env.GetEnvDuration("PROVISION_STAGE_TIMEOUT", 2*time.Minute),
		LeaseTTL:       env.GetEnvDuration("PROVISION_LEASE_TTL", 10*time.Minute),
		MaxAttempts:    env.GetEnvInt("PROVISION_MAX_ATTEMPTS", 3),
		InitialBackoff: env.GetEnvDuration("PROVISION_INITIAL_BACKOFF", time.Second),
		MaxBackoff:     env.GetEnvDuration("PROVISION_MAX_BACKOFF", 10*time.Second),
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ProvisionConfig) Validate() error {
	if c.StageTimeout <= 0 {
		return fmt.Errorf("PROVISION_STAGE_TIMEOUT must be positive, got %s", c.StageTimeout)
	}
	if budget := c.StageBudget(); c.LeaseTTL <= budget {
		return fmt.Errorf("PROVISION_LEASE_TTL %s must exceed the longest stage run %s", c.LeaseTTL, budget)
	}
	return nil
}

// StageBudget is the longest one stage can take: every attempt running into
// the timeout, plus the largest randomized backoff between attempts.
func (c *ProvisionConfig) StageBudget() time.Duration {
	attempts := max(c.MaxAttempts, 1)
	budget := time.Duration(attempts) * c.StageTimeout
	interval := c.InitialBackoff
	for i := 1; i < attempts; i++ {
		budget += interval * 3 / 2
		interval = min(interval*2, c.MaxBackoff)
	}
	return budget
}

type SiteConfig struct {
	BaseURL        string
	Bucket         string
	PathPrefix     string
	HostedZoneID   string
	BaseDomain     string
	CDNDomain      string
	DistributionID string
	TesterTimeout  time.Duration
	MaxResponse    time.Duration
}

func NewSiteConfig() *SiteConfig {
	return &SiteConfig{
		BaseURL:        env.GetEnv("SITE_BASE_URL", "https://orthodoxmetrics.com"),
		Bucket:         env.GetEnv("S3_BUCKET", "church-sites"),
		PathPrefix:     env.GetEnv("SITE_PATH_PREFIX", "churches"),
		HostedZoneID:   os.Getenv("SITE_HOSTED_ZONE_ID"),
		BaseDomain:     os.Getenv("SITE_BASE_DOMAIN"),
		CDNDomain:      os.Getenv("SITE_CDN_DOMAIN"),
		DistributionID: os.Getenv("SITE_DISTRIBUTION_ID"),
		TesterTimeout:  env.GetEnvDuration("SITE_TESTER_TIMEOUT", 10*time.Second),
		MaxResponse:    env.GetEnvDuration("SITE_TESTER_MAX_RESPONSE", 3*time.Second),
	}
}
