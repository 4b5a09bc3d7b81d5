package config

import (
	"fmt"

	"github.com/prtip/prtip/pkg/models"
	"github.com/prtip/prtip/pkg/scanlog"
)

// FileConfig is the on-disk JSON shape the scheduler loads via
// LoadAndValidate; it embeds models.Config for the scan-engine fields
// and adds the ambient logging/sink configuration.
type FileConfig struct {
	models.Config
	Logging scanlog.Config `json:"logging"`
	Sink    SinkConfig     `json:"sink"`
}

// SinkConfig selects and configures the result sink backend.
type SinkConfig struct {
	Backend string `json:"backend"` // "memory" | "sqlite" | "mmap"
	Path    string `json:"path,omitempty"`
}

func (c FileConfig) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	switch c.Sink.Backend {
	case "", "memory":
	case "sqlite", "mmap":
		if c.Sink.Path == "" {
			return fmt.Errorf("config: sink backend %q requires a path", c.Sink.Backend)
		}
	default:
		return fmt.Errorf("config: unknown sink backend %q", c.Sink.Backend)
	}
	return nil
}
