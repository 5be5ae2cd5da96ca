package worker

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultPort is the port a worker listens on when none is configured.
const DefaultPort = 8765

// Descriptor describes one worker as configured on the controller.
type Descriptor struct {
	Name         string   `json:"name" yaml:"-"`
	Host         string   `json:"host" yaml:"host"`
	Port         int      `json:"port" yaml:"port"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities"`
	Tags         []string `json:"tags,omitempty" yaml:"tags"`
}

// URL returns the worker's base HTTP address.
func (d Descriptor) URL() string {
	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(d.Host, strconv.Itoa(port)))
}

// HasCapability reports whether the worker advertises capability c.
func (d Descriptor) HasCapability(c string) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// HealthReport is the payload a worker serves on /health.
type HealthReport struct {
	Status        string  `json:"status"`
	SessionID     *string `json:"session_id"`
	ClaudeVersion *string `json:"claude_version"`
	Uptime        float64 `json:"uptime_seconds"`
	WorkerName    string  `json:"worker_name"`
}

// Health is the controller's view of one worker after a probe. A probe that
// fails for any reason yields Online=false with Error set.
type Health struct {
	Name          string   `json:"name"`
	URL           string   `json:"url"`
	Online        bool     `json:"online"`
	SessionID     *string  `json:"session_id,omitempty"`
	ClaudeVersion *string  `json:"claude_version,omitempty"`
	Uptime        *float64 `json:"uptime_seconds,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// StatusReport is the payload a worker serves on /status.
type StatusReport struct {
	WorkerName    string  `json:"worker_name"`
	Uptime        float64 `json:"uptime"`
	ClaudeVersion *string `json:"claude_version"`
	RuntimeState
}
