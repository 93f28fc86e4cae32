// Package validator provides configuration validation
package validator

import (
	"fmt"
	"strings"

	"letmego-core/internal/config/schema"
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string // Field path (e.g., "pairing.key_length")
	Value   string // Current value (masked for secrets)
	Message string // Error message
	Hint    string // Fix suggestion
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult contains all validation errors
type ValidationResult struct {
	Errors []ValidationError
}

// IsValid returns true if there are no validation errors
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Error returns a formatted error message
func (r *ValidationResult) Error() string {
	if r.IsValid() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n\n")
	for i, err := range r.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Field)
		if err.Value != "" {
			fmt.Fprintf(&sb, "     Current value: %s\n", err.Value)
		}
		fmt.Fprintf(&sb, "     Error: %s\n", err.Message)
		if err.Hint != "" {
			fmt.Fprintf(&sb, "     Hint: %s\n", err.Hint)
		}
	}
	return sb.String()
}

// AddError adds a validation error
func (r *ValidationResult) AddError(field, value, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Hint:    hint,
	})
}

// ValidationRule is a function that validates configuration
type ValidationRule func(cfg *schema.Root, result *ValidationResult)

// Validator validates configuration
type Validator struct {
	rules []ValidationRule
}

// NewValidator creates a new Validator with default rules
func NewValidator() *Validator {
	v := &Validator{}
	v.AddRule(validatePairing)
	v.AddRule(validateSession)
	v.AddRule(validateAnchor)
	v.AddRule(validateSatellite)
	v.AddRule(validateLog)
	return v
}

// AddRule adds a validation rule
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules = append(v.rules, rule)
}

// Validate validates the configuration
func (v *Validator) Validate(cfg *schema.Root) *ValidationResult {
	result := &ValidationResult{}
	for _, rule := range v.rules {
		rule(cfg, result)
	}
	return result
}

// ValidateConfig is a convenience function that creates a validator and validates
func ValidateConfig(cfg *schema.Root) *ValidationResult {
	return NewValidator().Validate(cfg)
}

// ============================================================================
// Validation Rules
// ============================================================================

func validatePairing(cfg *schema.Root, result *ValidationResult) {
	p := cfg.Pairing
	if p.KeyLength < 4 || p.KeyLength > 32 {
		result.AddError("pairing.key_length", fmt.Sprintf("%d", p.KeyLength),
			"key_length must be between 4 and 32", "The Satellite input box expects 6")
	}

	if len(p.Charset) < 2 {
		result.AddError("pairing.charset", p.Charset,
			"charset must contain at least 2 characters", "Use uppercase letters and digits")
	}
	seen := make(map[rune]bool, len(p.Charset))
	for _, ch := range p.Charset {
		if !(ch >= 'A' && ch <= 'Z') && !(ch >= '0' && ch <= '9') {
			result.AddError("pairing.charset", p.Charset,
				fmt.Sprintf("charset contains %q; only A-Z and 0-9 are allowed", ch),
				"Keys are typed into an uppercase alphanumeric input box")
			break
		}
		if seen[ch] {
			result.AddError("pairing.charset", p.Charset,
				fmt.Sprintf("charset contains duplicate %q", ch), "Duplicates bias the key distribution")
			break
		}
		seen[ch] = true
	}

	if p.KeyExpiry < 0 {
		result.AddError("pairing.key_expiry", p.KeyExpiry.String(),
			"key_expiry must not be negative", "Use 0 for keys that live until regenerated")
	}

	if p.Policy != schema.PolicyMultiSession && p.Policy != schema.PolicySingleSession {
		result.AddError("pairing.policy", p.Policy,
			"policy must be multi or single", "")
	}
}

func validateSession(cfg *schema.Root, result *ValidationResult) {
	s := cfg.Session
	if s.HeartbeatInterval <= 0 {
		result.AddError("session.heartbeat_interval", s.HeartbeatInterval.String(),
			"heartbeat_interval must be positive", "Default is 2s")
	}
	if s.GraceWindow < s.HeartbeatInterval {
		result.AddError("session.grace_window", s.GraceWindow.String(),
			"grace_window must be at least heartbeat_interval", "Default is 2x heartbeat_interval")
	}
	if s.HandshakeTimeout <= 0 {
		result.AddError("session.handshake_timeout", s.HandshakeTimeout.String(),
			"handshake_timeout must be positive", "Default is 5s")
	}
	if s.LatencyAlpha <= 0 || s.LatencyAlpha > 1 {
		result.AddError("session.latency_alpha", fmt.Sprintf("%g", s.LatencyAlpha),
			"latency_alpha must be in (0, 1]", "Default is 0.25")
	}
}

func validateAnchor(cfg *schema.Root, result *ValidationResult) {
	protocols := cfg.Anchor.Protocols
	listeners := map[string]schema.ListenerConfig{
		"anchor.protocols.tcp":       protocols.TCP,
		"anchor.protocols.websocket": protocols.WebSocket.ListenerConfig,
		"anchor.protocols.quic":      protocols.QUIC,
		"anchor.protocols.kcp":       protocols.KCP,
	}
	for field, l := range listeners {
		if l.Enabled {
			validatePort(field+".port", l.Port, result)
		}
	}

	if protocols.WebSocket.Enabled && !strings.HasPrefix(protocols.WebSocket.Path, "/") {
		result.AddError("anchor.protocols.websocket.path", protocols.WebSocket.Path,
			"path must start with /", "")
	}

	g := cfg.Anchor.Guard
	if g.Enabled && (g.AttemptsPerMinute <= 0 || g.Burst <= 0 || g.MaxTrackedPeers <= 0) {
		result.AddError("anchor.guard", fmt.Sprintf("%d/%d/%d", g.AttemptsPerMinute, g.Burst, g.MaxTrackedPeers),
			"attempts_per_minute, burst and max_tracked_peers must be positive", "Disable the guard instead")
	}
	if g.Enabled && (g.MaxFailures <= 0 || g.FailureWindow <= 0 || g.BanDuration <= 0) {
		result.AddError("anchor.guard", fmt.Sprintf("%d/%s/%s", g.MaxFailures, g.FailureWindow, g.BanDuration),
			"max_failures, failure_window and ban_duration must be positive", "Disable the guard instead")
	}
}

func validateSatellite(cfg *schema.Root, result *ValidationResult) {
	switch cfg.Satellite.Protocol {
	case schema.ProtocolTCP, schema.ProtocolWebSocket, schema.ProtocolQUIC, schema.ProtocolKCP:
	default:
		result.AddError("satellite.protocol", cfg.Satellite.Protocol,
			"unknown protocol", "Use tcp, websocket, quic or kcp")
	}

	switch cfg.Satellite.DeviceType {
	case "laptop", "phone", "desktop":
	default:
		result.AddError("satellite.device_type", cfg.Satellite.DeviceType,
			"device_type must be laptop, phone or desktop", "")
	}
}

func validateLog(cfg *schema.Root, result *ValidationResult) {
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		result.AddError("log.level", cfg.Log.Level, "unknown log level", "Use debug, info, warn or error")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		result.AddError("log.format", cfg.Log.Format, "unknown log format", "Use text or json")
	}
}

func validatePort(field string, port int, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("%d", port), "port must be between 1 and 65535", "")
	}
}
