package events

// ChannelEvent sends each notified value to every registered channel without
// blocking: a listener whose buffer is full misses that value.
type ChannelEvent[T any] struct {
	set listenerSet[chan<- T]
}

func NewChannelEvent[T any]() *ChannelEvent[T] {
	return &ChannelEvent[T]{}
}

// Listen registers ch and returns its deregistration function. The channel is
// never closed by ChannelEvent.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}
	return e.set.add(ch)
}

// Notify offers value to every registered channel.
func (e *ChannelEvent[T]) Notify(value T) {
	for _, ch := range e.set.snapshot() {
		TrySend(ch, value)
	}
}

// ListenerCount returns the current number of registered listeners
func (e *ChannelEvent[T]) ListenerCount() int {
	return e.set.count()
}

// TrySend performs a non-blocking send and reports whether the value was delivered.
func TrySend[T any](ch chan<- T, value T) bool {
	select {
	case ch <- value:
		return true
	default:
		return false
	}
}

// ChannelCallback adapts ch into a callback suitable for CallbackEvent.Listen.
func ChannelCallback[T any](ch chan<- T) func(T) {
	return func(value T) {
		TrySend(ch, value)
	}
}
