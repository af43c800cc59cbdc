package credits

import "fmt"

// InsufficientCreditsError reports that a balance could not cover an action.
// It is an expected outcome: the caller may retry after replenishment.
type InsufficientCreditsError struct {
	Action    string
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for %s: requires %d, available %d (short by %d)",
		e.Action, e.Required, e.Available, e.Shortfall())
}

// Shortfall is how many more credits the action needs.
func (e *InsufficientCreditsError) Shortfall() int {
	if d := e.Required - e.Available; d > 0 {
		return d
	}
	return 0
}
