package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateSystem(); err != nil {
		return fmt.Errorf("system validation failed: %w", err)
	}

	if err := v.validateAgent(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}

	if err := v.validateIndex(); err != nil {
		return fmt.Errorf("index validation failed: %w", err)
	}

	if err := v.validateVendors(); err != nil {
		return fmt.Errorf("vendor validation failed: %w", err)
	}

	if err := v.validateMasking(); err != nil {
		return fmt.Errorf("masking validation failed: %w", err)
	}

	if err := v.validateRunbooks(); err != nil {
		return fmt.Errorf("runbook validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateSystem() error {
	sys := v.cfg.System
	if sys == nil || sys.Environment == "" {
		return NewValidationError("system", "system", "environment", ErrMissingRequiredField)
	}
	if sys.TraceURLFormat != "" && !strings.Contains(sys.TraceURLFormat, "{trace_id}") {
		return NewValidationError("system", "system", "trace_url_format",
			fmt.Errorf("%w: must contain {trace_id}", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateAgent() error {
	a := v.cfg.Agent
	if a == nil {
		return NewValidationError("agent", "agent", "", ErrMissingRequiredField)
	}
	if a.Model == "" {
		return NewValidationError("agent", "agent", "model", ErrMissingRequiredField)
	}
	if a.Timeout <= 0 {
		return NewValidationError("agent", "agent", "timeout", fmt.Errorf("must be positive"))
	}
	if a.MaxIterations < 1 {
		return NewValidationError("agent", "agent", "max_iterations", fmt.Errorf("must be at least 1"))
	}
	if a.BaseURL != "" {
		if err := validateURL(a.BaseURL); err != nil {
			return NewValidationError("agent", "agent", "base_url", err)
		}
	}
	return nil
}

func (v *ConfigValidator) validateIndex() error {
	idx := v.cfg.Index
	if idx == nil {
		return NewValidationError("index", "index", "", ErrMissingRequiredField)
	}

	switch idx.Dispatcher {
	case DispatcherWorker:
		if idx.BuilderURL == "" {
			return NewValidationError("index", "index", "builder_url", ErrMissingRequiredField)
		}
		if err := validateURL(idx.BuilderURL); err != nil {
			return NewValidationError("index", "index", "builder_url", err)
		}
		if idx.WorkerCount < 1 {
			return NewValidationError("index", "index", "worker_count", fmt.Errorf("must be at least 1"))
		}
		if idx.QueueSize < 1 {
			return NewValidationError("index", "index", "queue_size", fmt.Errorf("must be at least 1"))
		}
	case DispatcherRedis:
		if idx.Redis.Addr == "" {
			return NewValidationError("index", "index", "redis.addr", ErrMissingRequiredField)
		}
		if idx.Redis.ListKey == "" {
			return NewValidationError("index", "index", "redis.list_key", ErrMissingRequiredField)
		}
	default:
		return NewValidationError("index", "index", "dispatcher",
			fmt.Errorf("%w: %q (want %q or %q)", ErrInvalidValue, idx.Dispatcher, DispatcherWorker, DispatcherRedis))
	}

	if idx.StaleAfter > 0 && idx.SweepInterval <= 0 {
		return NewValidationError("index", "index", "sweep_interval", fmt.Errorf("must be positive when stale_after is set"))
	}

	if idx.Weaviate.Host == "" {
		return NewValidationError("index", "index", "weaviate.host", ErrMissingRequiredField)
	}
	if s := idx.Weaviate.Scheme; s != "http" && s != "https" {
		return NewValidationError("index", "index", "weaviate.scheme", fmt.Errorf("%w: %q", ErrInvalidValue, s))
	}
	return nil
}

func (v *ConfigValidator) validateVendors() error {
	for name, vendor := range v.cfg.Vendors {
		if vendor.OAuth == nil {
			continue
		}
		if vendor.OAuth.TokenURL == "" {
			return NewValidationError("vendor", name, "oauth.token_url", ErrMissingRequiredField)
		}
		if err := validateURL(vendor.OAuth.TokenURL); err != nil {
			return NewValidationError("vendor", name, "oauth.token_url", err)
		}
		if vendor.OAuth.ClientIDEnv == "" {
			return NewValidationError("vendor", name, "oauth.client_id_env", ErrMissingRequiredField)
		}
	}
	return nil
}

func (v *ConfigValidator) validateMasking() error {
	if v.cfg.Masking == nil {
		return nil
	}
	for i, p := range v.cfg.Masking.Patterns {
		id := p.Name
		if id == "" {
			id = fmt.Sprintf("#%d", i)
		}
		if p.Pattern == "" {
			return NewValidationError("masking", id, "pattern", ErrMissingRequiredField)
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return NewValidationError("masking", id, "pattern", fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %q must be an http(s) URL", ErrInvalidValue, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q has no host", ErrInvalidValue, raw)
	}
	return nil
}

func (v *ConfigValidator) validateRunbooks() error {
	r := v.cfg.Runbooks
	if r == nil || r.DefaultURL == "" {
		return nil
	}
	if err := validateURL(r.DefaultURL); err != nil {
		return NewValidationError("runbooks", "runbooks", "default_url", err)
	}
	return nil
}
