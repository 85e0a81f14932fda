package config

import (
	"fmt"
	"net/http"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

var validMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validator validates gateway configuration and collects every problem.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(cfg *GatewayConfig) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration and returns ValidationErrors when
// anything is wrong.
func (v *Validator) Validate(cfg *GatewayConfig) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&cfg.Server)
	v.validateIdentity(&cfg.Identity)
	v.validateUserStore(&cfg.UserStore)
	v.validateBroker(&cfg.Broker)
	v.validateInbound(&cfg.Inbound)
	v.validateVault(&cfg.Vault)
	v.validateObservability(&cfg.Observability)
	v.validateRoutes(cfg.Routes)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateServer(s *ServerConfig) {
	if s.Address == "" {
		v.addError("server.address", "address is required")
	}
	if s.MaxBodyBytes < 0 {
		v.addError("server.maxBodyBytes", "must not be negative")
	}
	if rl := s.RateLimit; rl != nil && rl.Enabled {
		if rl.RequestsPerSecond <= 0 {
			v.addError("server.rateLimit.requestsPerSecond", "must be positive")
		}
		if rl.Burst <= 0 {
			v.addError("server.rateLimit.burst", "must be positive")
		}
	}
}

func (v *Validator) validateIdentity(i *IdentityConfig) {
	if i.Issuer == "" {
		v.addError("identity.issuer", "issuer or projectId is required")
	}
	if i.Audience == "" {
		v.addError("identity.audience", "audience or projectId is required")
	}
	if !strings.HasPrefix(i.JWKSURL, "http://") && !strings.HasPrefix(i.JWKSURL, "https://") {
		v.addError("identity.jwksUrl", "must be an http(s) URL")
	}
}

func (v *Validator) validateUserStore(u *UserStoreConfig) {
	switch u.Type {
	case UserStoreRedis:
	case UserStoreSQL:
		if u.DSN == "" {
			v.addError("userStore.dsn", "dsn is required for the sql user store")
		}
	default:
		v.addError("userStore.type", fmt.Sprintf("unsupported type %q, want redis or sql", u.Type))
	}
}

func (v *Validator) validateBroker(b *BrokerConfig) {
	if b.RequestTimeout <= 0 {
		v.addError("broker.requestTimeout", "must be positive")
	}
	if cb := b.CircuitBreaker; cb != nil && cb.Enabled {
		if cb.Threshold <= 0 {
			v.addError("broker.circuitBreaker.threshold", "must be positive")
		}
		if cb.Timeout <= 0 {
			v.addError("broker.circuitBreaker.timeout", "must be positive")
		}
	}
}

func (v *Validator) validateInbound(in *InboundConfig) {
	if in.Enabled && in.Queue == "" {
		v.addError("inbound.queue", "queue is required when inbound is enabled")
	}
}

func (v *Validator) validateVault(vc *VaultConfig) {
	if !vc.Enabled {
		return
	}
	if vc.Address == "" {
		v.addError("vault.address", "address is required when vault is enabled")
	}
	if vc.Path == "" {
		v.addError("vault.path", "path is required when vault is enabled")
	}
}

func (v *Validator) validateObservability(o *ObservabilityConfig) {
	if o.Tracing.SamplingRate < 0 || o.Tracing.SamplingRate > 1 {
		v.addError("observability.tracing.samplingRate", "must be between 0 and 1")
	}
	if !validLogLevels[o.Logging.Level] {
		v.addError("observability.logging.level", fmt.Sprintf("unsupported level %q", o.Logging.Level))
	}
	if o.Logging.Format != "json" && o.Logging.Format != "console" {
		v.addError("observability.logging.format", "must be json or console")
	}
}

func (v *Validator) validateRoutes(routes []RouteConfig) {
	names := make(map[string]int, len(routes))
	endpoints := make(map[string]string, len(routes))
	asyncCommands := make(map[string]string)

	for i := range routes {
		r := &routes[i]
		path := fmt.Sprintf("routes[%d]", i)

		if r.Name == "" {
			v.addError(path+".name", "name is required")
		} else if prev, dup := names[r.Name]; dup {
			v.addError(path+".name", fmt.Sprintf("duplicate route name %q (first at routes[%d])", r.Name, prev))
		} else {
			names[r.Name] = i
		}

		if r.Channel == "" {
			v.addError(path+".channel", "channel is required")
		}

		if r.Public && len(r.Roles) > 0 {
			v.addError(path+".roles", "public routes cannot require roles")
		}
		if r.Public && r.Async {
			v.addError(path+".async", "public routes are HTTP only")
		}

		if r.Path == "" && !r.Async {
			v.addError(path+".path", "path is required unless the route is async")
		}
		if r.Path != "" {
			if !validMethods[r.Method] {
				v.addError(path+".method", fmt.Sprintf("unsupported method %q", r.Method))
			}
			if !strings.HasPrefix(r.Path, "/") {
				v.addError(path+".path", "path must start with /")
			}
			key := r.Method + " " + r.Path
			if prev, dup := endpoints[key]; dup {
				v.addError(path+".path", fmt.Sprintf("%s is already served by %q", key, prev))
			} else {
				endpoints[key] = r.Name
			}
		}

		if r.Async {
			if prev, dup := asyncCommands[r.Command]; dup {
				v.addError(path+".command", fmt.Sprintf("async command %q is already served by %q", r.Command, prev))
			} else {
				asyncCommands[r.Command] = r.Name
			}
		}

		if r.Timeout < 0 {
			v.addError(path+".timeout", "must not be negative")
		}
	}
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
