package config

import (
	"fmt"
	"net"
	"time"
)

const (
	minScanInterval = 5 * time.Second
	maxScanInterval = time.Hour
)

// Validate checks the whole configuration. Any error here is fatal at
// startup, before any worker is launched.
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}

	seen := map[string]bool{}
	for i := range c.Servers {
		s := &c.Servers[i]
		if seen[s.Name] {
			return fmt.Errorf("unraid[%d]: duplicate server name %q", i, s.Name)
		}
		seen[s.Name] = true
		if err := s.Validate(); err != nil {
			return fmt.Errorf("unraid[%d] (%s): %w", i, s.Name, err)
		}
	}

	if err := c.Server.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks one server block.
func (s *ServerConfig) Validate() error {
	if s.APIKey == "" && s.Username == "" {
		return fmt.Errorf("either api_key (GraphQL) or username/password (legacy HTTP) must be set")
	}
	if s.Username != "" && s.Password == "" {
		return fmt.Errorf("password is required when username is set")
	}
	for _, iv := range []struct {
		name string
		d    time.Duration
	}{
		{"scan_interval", s.ScanInterval},
		{"ups_scan_interval", s.UPSScanInterval},
		{"system_scan_interval", s.SystemScanInterval},
	} {
		if iv.d < minScanInterval || iv.d > maxScanInterval {
			return fmt.Errorf("%s must be between %s and %s, got %s", iv.name, minScanInterval, maxScanInterval, iv.d)
		}
	}
	return nil
}

// Validate checks the agent HTTP endpoint address.
func (h *HTTPConfig) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", h.Addr); err != nil {
		return fmt.Errorf("server.addr invalid (expected :port or ip:port), got %s: %w", h.Addr, err)
	}
	return nil
}
