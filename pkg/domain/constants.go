package domain

import "regexp"

// Synthetic bookend states and the events that lead into them.
const (
	PseudoInit  = "pseudo-init"
	PseudoFinal = "pseudo-final"
)

// Durable store kinds and indexed fields owned by the engine.
const (
	KindWorkPackage = "FantasmWorkPackage"
	KindSemaphore   = "FantasmSemaphore"

	FieldWorkIndex = "work_index"
)

// MaxNameLength bounds machine, state and event names. They are embedded in
// task names, which most queues cap at a few hundred characters.
const MaxNameLength = 50

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9-]{1,50}$`)

// ValidName reports whether s may be used as a machine, state or event name.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}
