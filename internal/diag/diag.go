// Package diag centralizes the agent's two forms of non-hot-path
// observability: structured event logging (go.uber.org/zap) and the
// configuration-fault propagation convention — a write to address
// zero with a diagnostic value, matching the convention used by the
// host library for fatal asserts. Hot-path packages (syncagent,
// shmagent, arena prolog/epilog code) only ever call ConfigFault,
// never Logger directly, keeping the spin-wait paths
// allocation-free.
package diag

import (
	"fmt"

	"go.uber.org/zap"
)

// Logger receives structured events for everything above the hot
// path: flush cycles, monitor-unavailable fallbacks, and the
// diagnostic record attached to a configuration fault. Defaults to a
// no-op logger; set with SetLogger.
var Logger = zap.NewNop()

// SetLogger installs l as the package-wide structured logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	Logger = l
}

// FaultFunc is the terminal action taken on a configuration fault.
// The default, defaultFault, never returns. Tests substitute a
// recording function via SetConfigFaultHandler so a single fault
// doesn't take down the whole test binary.
type FaultFunc func(reason string, args ...any)

var onConfigFault FaultFunc = defaultFault

// SetConfigFaultHandler overrides the terminal action for
// ConfigFault. Returns the previous handler so callers (typically
// tests, via defer) can restore it.
func SetConfigFaultHandler(f FaultFunc) FaultFunc {
	prev := onConfigFault
	if f == nil {
		f = defaultFault
	}
	onConfigFault = f
	return prev
}

// ConfigFault records a configuration fault and then invokes the terminal handler, which by default
// never returns.
func ConfigFault(reason string, args ...any) {
	fields := make([]zap.Field, 0, len(args)/2+1)
	fields = append(fields, zap.String("reason", reason))
	for i := 0; i+1 < len(args); i += 2 {
		key, _ := args[i].(string)
		if key == "" {
			key = fmt.Sprintf("arg%d", i)
		}
		fields = append(fields, zap.String(key, fmt.Sprint(args[i+1])))
	}
	Logger.Error("configuration fault", fields...)
	onConfigFault(reason, args...)
}

// defaultFault implements the host library's fatal-assert convention:
// a deliberate write through a nil pointer. It never returns.
func defaultFault(reason string, args ...any) {
	var p *uint64
	*p = 0 // unreachable return; this line crashes the process on purpose
}
