// Package sym defines the symbols attached to structured log lines so
// scheduler, dispatch, and storage output can be filtered by subsystem.
package sym

// System infrastructure symbols.
const (
	AM         = "≡" // configuration and system settings
	Pulse      = "꩜" // ticker, dispatcher, and worker activity
	PulseOpen  = "✿" // graceful startup
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // database/storage layer
	Plan       = "⟶" // job plan and task sequence changes
)
