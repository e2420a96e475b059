package events

// CallbackEvent delivers each notified value synchronously to every registered callback.
type CallbackEvent[T any] struct {
	set listenerSet[func(T)]
}

func NewCallbackEvent[T any]() *CallbackEvent[T] {
	return &CallbackEvent[T]{}
}

// Listen registers callback and returns its deregistration function.
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}
	return e.set.add(callback)
}

// Notify calls every callback registered at the time of the call, once each, in
// registration order, on the calling goroutine. Callbacks run outside the lock so
// they may register or deregister listeners themselves.
func (e *CallbackEvent[T]) Notify(value T) {
	for _, callback := range e.set.snapshot() {
		callback(value)
	}
}

// ListenerCount returns the current number of registered listeners
func (e *CallbackEvent[T]) ListenerCount() int {
	return e.set.count()
}
