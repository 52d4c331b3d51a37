package schema

import (
	"fmt"
	"strings"
)

// SchemaResolutionError reports a required column that could not be located.
// Headers holds the cleaned headers actually received.
type SchemaResolutionError struct {
	Field   Field
	Tried   []string
	Headers []string
}

func (e *SchemaResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %s column: tried [%s]; headers found: [%s]",
		e.Field, strings.Join(e.Tried, ", "), strings.Join(e.Headers, ", "))
}

// CoercionWarning records a cell that failed to parse and was stored as null.
type CoercionWarning struct {
	Row   int // 1-based data row, excluding the header
	Field Field
	Value string
}

func (w CoercionWarning) String() string {
	return fmt.Sprintf("row %d: %s value %q is not usable, stored as null", w.Row, w.Field, w.Value)
}
