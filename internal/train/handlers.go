package train

func (s *Service) handleNotification(c *connection, value []byte) {
	msg := NewMessage(value)
	switch msg.Type() {
	case MessageTypeHubProperties:
		s.handleHubProperties(c, msg)
	case MessageTypeHubAttachedIO:
		s.handleHubAttachedIO(c, msg)
	case MessageTypePortModeInformation:
		s.handlePortModeInformation(c, msg)
	default:
		// Unhandled message types are dropped
	}
}

func (s *Service) handleHubProperties(c *connection, msg Message) {
	s.mu.Lock()
	if !s.current(c) {
		s.mu.Unlock()
		return
	}
	switch msg.ByteAt(3) {
	case hubPropertyRSSI:
		// RSSI is between -127 and 0
		distance := -float64(msg.Int8At(5)) / 127.0
		if distance < 0 {
			distance = 0
		}
		if distance > 1 {
			distance = 1
		}
		c.train.Distance = distance
	case hubPropertyBattery:
		c.train.Battery = int(msg.ByteAt(5))
	default:
		s.mu.Unlock()
		return
	}
	snapshot := c.train.Clone()
	s.mu.Unlock()

	s.broadcast(snapshot)
}

func (s *Service) handleHubAttachedIO(c *connection, msg Message) {
	portID := int(msg.ByteAt(3))

	s.mu.Lock()
	if !s.current(c) {
		s.mu.Unlock()
		return
	}
	address := c.train.Address
	switch msg.ByteAt(4) {
	case ioEventAttached:
		c.train.Ports[portID] = Port{
			Address:    address,
			ID:         portID,
			DeviceType: int(msg.ByteAt(5)),
		}
		// A freshly attached LED starts out white
		if portID == LEDPort {
			s.enqueueLEDUpdate(c, ledAttachRefreshDelay)
		}
		s.logger.Printf("Service: %s attached device type %d at port %d", address, msg.ByteAt(5), portID)
	case ioEventDetached:
		delete(c.train.Ports, portID)
		s.logger.Printf("Service: %s detached device at port %d", address, portID)
	default:
		s.mu.Unlock()
		return
	}
	snapshot := c.train.Clone()
	s.mu.Unlock()

	s.broadcast(snapshot)
}

func (s *Service) handlePortModeInformation(c *connection, msg Message) {
	portID := msg.ByteAt(3)
	switch msg.ByteAt(5) {
	case 0x00:
		// The hub always sends 11 name bytes regardless of the declared length
		s.logger.Printf("Service: %s port %d has name %q", c.train.Address, portID, msg.String(6, 11))
	case 0x04:
		s.logger.Printf("Service: %s port %d has unit %q", c.train.Address, portID, msg.String(6, 5))
	}
}
