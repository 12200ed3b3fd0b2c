package profile

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo".
	Mode string
	// Addr is the binding address for server.
	Addr string
	// Port is the binding port for server.
	Port int
	// Driver is the database driver: postgres or sqlite.
	Driver string
	// DSN points to where leadpilot stores its business data.
	DSN string

	// RedisAddr is the shared key-value cache used for thread locks and
	// the chat job queue.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Engine configuration (external conversational-AI service).
	EngineAPIKey  string
	EngineBaseURL string

	// AdminSecret signs and verifies the operator-facade bearer tokens.
	AdminSecret string

	// Pipeline tuning. Zero values fall back to the documented defaults
	// at the point of use.
	WorkerConcurrency int
	LockTTL           time.Duration
	JobMaxAttempts    int
	JobBackoff        time.Duration
	JobRetention      int

	// Version is the current version of server.
	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// FromEnv overlays environment variables onto the profile. Explicit
// flag values win over the environment.
func (p *Profile) FromEnv() {
	if p.RedisAddr == "" {
		p.RedisAddr = os.Getenv("LEADPILOT_REDIS_ADDR")
	}
	if p.RedisPassword == "" {
		p.RedisPassword = os.Getenv("LEADPILOT_REDIS_PASSWORD")
	}
	if p.RedisDB == 0 {
		if v := os.Getenv("LEADPILOT_REDIS_DB"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				p.RedisDB = n
			}
		}
	}
	if p.EngineAPIKey == "" {
		p.EngineAPIKey = os.Getenv("LEADPILOT_ENGINE_API_KEY")
		if p.EngineAPIKey == "" {
			p.EngineAPIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if p.EngineBaseURL == "" {
		p.EngineBaseURL = os.Getenv("LEADPILOT_ENGINE_BASE_URL")
	}
	if p.AdminSecret == "" {
		p.AdminSecret = os.Getenv("LEADPILOT_ADMIN_SECRET")
	}
	if p.DSN == "" {
		p.DSN = os.Getenv("LEADPILOT_DSN")
	}
}

// Validate checks the profile for values the server cannot start
// without and normalizes defaults.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Port <= 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}
	if p.Driver != "postgres" && p.Driver != "sqlite" {
		return errors.Errorf("unsupported database driver %q", p.Driver)
	}
	if p.DSN == "" {
		return errors.New("dsn required")
	}
	if p.RedisAddr == "" {
		return errors.New("redis address required")
	}
	if p.Mode == "prod" && p.AdminSecret == "" {
		return errors.New("admin secret required in prod mode")
	}
	if p.WorkerConcurrency <= 0 {
		p.WorkerConcurrency = 2
	}
	if p.LockTTL <= 0 {
		p.LockTTL = 300 * time.Second
	}
	if p.JobMaxAttempts <= 0 {
		p.JobMaxAttempts = 5
	}
	if p.JobBackoff <= 0 {
		p.JobBackoff = 2 * time.Second
	}
	if p.JobRetention <= 0 {
		p.JobRetention = 200
	}
	return nil
}

func (p *Profile) String() string {
	return fmt.Sprintf("mode=%s addr=%s port=%d driver=%s", p.Mode, p.Addr, p.Port, p.Driver)
}
