package engine

import "time"

// Clock supplies the current instant. Injected so tests drive time
// deterministically; nothing below the engine calls time.Now for business
// logic.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall-clock implementation used in production.
func SystemClock() Clock { return systemClock{} }
