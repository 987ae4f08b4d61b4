// Package retry runs an action repeatedly under a composable set of
// strategies.
package retry

// Action is a unit of work that may fail transiently.
type Action func() error

// Retry runs action until it succeeds or a strategy declines another attempt,
// returning the number of attempts made and the last error.
//
// After each failure the strategies are consulted in order and the first to
// decline ends the loop, so strategies that sleep belong last.
func Retry(action Action, strategies ...Strategy) (attempts uint, err error) {
	for attempts = 1; ; attempts++ {
		if err = action(); err == nil {
			return attempts, nil
		}
		if !allow(strategies, attempts, err) {
			return attempts, err
		}
	}
}

func allow(strategies []Strategy, attempts uint, err error) bool {
	for _, s := range strategies {
		if !s(attempts, err) {
			return false
		}
	}
	return true
}
