package debug

import (
	"fmt"

	"github.com/gobreak/gobreak/debug/common"
	"github.com/gobreak/gobreak/debug/dap"
	"github.com/gobreak/gobreak/debug/headless"
	"github.com/gobreak/gobreak/log"
)

// Options configures a backend.
type Options struct {
	// DlvPath is the dlv binary used to spawn attach servers. Empty means
	// "dlv" from PATH.
	DlvPath string
	// Logger receives backend diagnostics. Nil means stderr.
	Logger log.Logger
}

func (o Options) normalize() Options {
	if o.DlvPath == "" {
		o.DlvPath = "dlv"
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// NewSessionManager creates a session manager for the given backend type.
func NewSessionManager(debuggerType string, opts Options) (common.SessionManager, error) {
	opts = opts.normalize()
	switch debuggerType {
	case "headless":
		return headless.NewSessionManager(opts.DlvPath, opts.Logger), nil
	case "dap":
		return dap.NewSessionManager(opts.DlvPath, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unsupported debugger type: %s", debuggerType)
	}
}
