package plan

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the planner's failure taxonomy. The HTTP layer
// maps these onto status codes. The first two are returned only under
// Options.Strict; by default the engine demotes the affected item to a
// raw material and records a warning instead.
var (
	ErrItemUnknown      = errors.New("item unknown")
	ErrBlueprintMissing = errors.New("no producing blueprint")
	ErrInvalidTarget    = errors.New("invalid target")
)

// CyclicBlueprintError is fatal for the whole plan: an item whose bill
// of materials transitively requires itself.
type CyclicBlueprintError struct {
	Chain []int32 // root-to-repeat path, first and last entries equal
}

func (e *CyclicBlueprintError) Error() string {
	parts := make([]string, len(e.Chain))
	for i, id := range e.Chain {
		parts[i] = fmt.Sprint(id)
	}
	return "cyclic blueprint chain: " + strings.Join(parts, " -> ")
}

// IsCyclic reports whether err is (or wraps) a CyclicBlueprintError.
func IsCyclic(err error) bool {
	var ce *CyclicBlueprintError
	return errors.As(err, &ce)
}
