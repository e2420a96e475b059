package train

import (
	"context"

	"github.com/lowaak/train-control/internal/bt"
	"github.com/lowaak/train-control/internal/workqueue"
)

// connection is the runtime record for one known train. All fields are guarded
// by the Service mutex.
//
// device, characteristic and unsubscribe are acquired together by Connect. The
// poll handles are added when the characteristic becomes ready, which is also
// when the train goes online; between the two the connection is pending and
// cancelPending aborts the wait.
//
// shuttingDown is set from the moment the handles are released until the queued
// shutdown task has turned connection control off. A Connect in that window sets
// reconnect instead of acquiring the device, and the shutdown task connects again.
type connection struct {
	train Train

	device         bt.DeviceGovernor
	characteristic bt.CharacteristicGovernor
	unsubscribe    func()
	cancelPending  context.CancelFunc
	shuttingDown   bool
	reconnect      bool

	batteryPoll  *workqueue.Handle
	distancePoll *workqueue.Handle
}

func newConnection(t Train) *connection {
	if t.Ports == nil {
		t.Ports = make(map[int]Port)
	}
	return &connection{train: t}
}

// release drops every BLE handle and poll task and returns the device whose
// connection control still has to be turned off, if any.
func (c *connection) release() bt.DeviceGovernor {
	device := c.device
	if c.cancelPending != nil {
		c.cancelPending()
		c.cancelPending = nil
	}
	c.batteryPoll.Cancel()
	c.batteryPoll = nil
	c.distancePoll.Cancel()
	c.distancePoll = nil
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.characteristic = nil
	c.device = nil
	c.train.Online = false
	for id, p := range c.train.Ports {
		p.Power = 0
		c.train.Ports[id] = p
	}
	return device
}
