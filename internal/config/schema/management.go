package schema

import "time"

// ManagementConfig contains the Anchor dashboard API configuration
type ManagementConfig struct {
	Enabled bool                 `yaml:"enabled" json:"enabled"`
	Listen  string               `yaml:"listen" json:"listen"`
	Auth    ManagementAuthConfig `yaml:"auth" json:"auth"`
}

// ManagementAuthConfig contains management API auth settings.
// An empty secret disables authentication.
type ManagementAuthConfig struct {
	Secret   Secret        `yaml:"secret" json:"secret"`
	Issuer   string        `yaml:"issuer" json:"issuer"`
	TokenTTL time.Duration `yaml:"token_ttl" json:"token_ttl"`
}
