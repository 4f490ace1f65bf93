package instance

import "os"

// GetID returns the process instance identifier. It prefers an explicit
// SOLCOUPONS_INSTANCE_ID, then the platform DYNO name, then the hostname.
func GetID() string {
	if id := os.Getenv("SOLCOUPONS_INSTANCE_ID"); id != "" {
		return id
	}
	if id := os.Getenv("DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
