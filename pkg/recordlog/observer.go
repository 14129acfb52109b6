package recordlog

import "time"

// Observer receives engine events. Implementations must be cheap and safe
// for concurrent use; they are called with the partition lock held.
type Observer interface {
	BytesWritten(partition string, n int)
	UnitErased(partition string)
	Reclaimed(partition string, relocated int, elapsed time.Duration)
	Recovered(partition string, repairs int)
}

type nopObserver struct{}

func (nopObserver) BytesWritten(string, int)             {}
func (nopObserver) UnitErased(string)                    {}
func (nopObserver) Reclaimed(string, int, time.Duration) {}
func (nopObserver) Recovered(string, int)                {}
