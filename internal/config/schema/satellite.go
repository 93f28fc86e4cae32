package schema

import "time"

// SatelliteConfig contains client-side settings
type SatelliteConfig struct {
	AnchorAddress  string        `yaml:"anchor_address" json:"anchor_address"`
	Protocol       string        `yaml:"protocol" json:"protocol"`
	Name           string        `yaml:"name" json:"name"`
	DeviceType     string        `yaml:"device_type" json:"device_type"` // laptop/phone/desktop
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}
