package train

import "time"

// schedulePolls starts the battery and distance polls of c. Callers hold s.mu.
func (s *Service) schedulePolls(c *connection) {
	address := c.train.Address
	c.batteryPoll = s.queue.ScheduleWithFixedDelay("battery poll "+address, s.cfg.BatteryPollInterval, func() {
		s.poll(c, BatteryRequest(), "battery")
	})
	c.distancePoll = s.queue.ScheduleWithFixedDelay("distance poll "+address, s.cfg.DistancePollInterval, func() {
		s.poll(c, RSSIRequest(), "distance")
	})
}

func (s *Service) poll(c *connection, request Message, what string) {
	s.mu.Lock()
	online := c.train.Online
	s.mu.Unlock()
	if !online {
		return
	}
	s.write(c, request, what+" poll")
}

// enqueueMotorUpdate queues a power command for a port. The power is read when
// the command runs, so a burst of updates sends the latest value. Callers hold s.mu.
func (s *Service) enqueueMotorUpdate(c *connection, portID int) {
	s.queue.Submit("motor update "+c.train.Address, func() {
		s.mu.Lock()
		p, ok := c.train.Ports[portID]
		s.mu.Unlock()
		if !ok {
			return
		}
		s.write(c, MotorPowerChange(p.ID, p.Power), "motor update")
	})
}

// enqueueLEDUpdate queues an LED color command after delay. The color is read
// when the command runs. Callers hold s.mu.
func (s *Service) enqueueLEDUpdate(c *connection, delay time.Duration) {
	s.queue.SubmitAfter("LED update "+c.train.Address, delay, func() {
		s.mu.Lock()
		color := c.train.Color
		s.mu.Unlock()
		s.write(c, LEDChange(color.PaletteIndex()), "LED update")
	})
}

// write sends msg if the characteristic of c is ready and writable. Failures
// are logged and dropped. Runs on the queue worker.
func (s *Service) write(c *connection, msg Message, what string) {
	s.mu.Lock()
	cg := c.characteristic
	address := c.train.Address
	s.mu.Unlock()

	if cg == nil || !cg.IsReady() || !cg.IsWritable() {
		s.logger.Printf("Service: skipping %s for %s, not ready", what, address)
		return
	}
	if err := cg.Write(msg.Bytes()); err != nil {
		s.logger.Printf("Service: %s for %s failed: %v", what, address, err)
	}
}
