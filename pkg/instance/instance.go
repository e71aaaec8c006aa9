package instance

import (
	"os"

	"github.com/angelmondragon/loaderescrow-backend/pkg/env"
)

// GetID returns the worker instance identifier. WORKER_ID wins, then the
// hostname, then a static default.
func GetID() string {
	if id := env.Get("WORKER_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-0"
}
