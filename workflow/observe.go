package workflow

import "time"

// Observer receives execution measurements from the engine and executor.
// Implementations must be safe for concurrent use; RecordProviderCall is
// invoked from fan-out callback goroutines. A nil observer records nothing.
type Observer interface {
	RecordStep(stepType, status string, duration time.Duration)
	RecordProviderCall(provider, status string, duration time.Duration)
	RecordPersist(operation string, duration time.Duration)
}
