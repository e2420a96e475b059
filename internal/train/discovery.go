package train

import (
	"strings"

	"github.com/lowaak/train-control/internal/bt"
)

// IsLegoAddress reports whether address belongs to one of the LEGO vendor ranges.
func IsLegoAddress(address string) bool {
	address = bt.NormalizeAddress(address)
	return strings.HasPrefix(address, LegoVendorPrefix) || strings.HasPrefix(address, LegoElectronicsVendorPrefix)
}

func (s *Service) IsDiscovering() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discovering
}

// ToggleDiscovery flips discovery and returns the new state. Concurrent toggles
// are applied one after the other.
func (s *Service) ToggleDiscovery() (bool, error) {
	s.discoveryMu.Lock()
	defer s.discoveryMu.Unlock()
	enable := !s.IsDiscovering()
	if err := s.setDiscovery(enable); err != nil {
		return s.IsDiscovering(), err
	}
	return enable, nil
}

// SetDiscovery turns discovery on or off. Turning it on starts the governor if
// needed and replays every device the governor has already seen. Trains found
// while discovery was on are kept when it is turned off.
func (s *Service) SetDiscovery(enable bool) error {
	s.discoveryMu.Lock()
	defer s.discoveryMu.Unlock()
	return s.setDiscovery(enable)
}

// setDiscovery applies a discovery change. Callers hold s.discoveryMu.
func (s *Service) setDiscovery(enable bool) error {
	if !enable {
		s.mu.Lock()
		stop := s.stopDiscovery
		s.stopDiscovery = nil
		s.discovering = false
		s.mu.Unlock()
		if stop != nil {
			stop()
			s.logger.Println("Service: discovery off")
		}
		return nil
	}

	if err := s.ensureGovernor(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.discovering {
		s.mu.Unlock()
		return nil
	}
	s.discovering = true
	s.mu.Unlock()
	s.logger.Println("Service: discovery on")

	// The governor only announces new sightings, so replay what it already knows
	for _, d := range s.governor.DiscoveredDevices() {
		s.onDiscoveredDevice(d)
	}
	stop := s.governor.ListenToDiscovery(s.onDiscoveredDevice)

	s.mu.Lock()
	s.stopDiscovery = stop
	s.mu.Unlock()
	return nil
}

func (s *Service) onDiscoveredDevice(d bt.DiscoveredDevice) {
	address := bt.NormalizeAddress(d.Address)
	s.logger.Printf("Service: discovered %s/%s", d.Name, address)
	if !IsLegoAddress(address) {
		return
	}

	s.mu.Lock()
	if !s.discovering {
		s.mu.Unlock()
		return
	}
	if _, ok := s.connections[address]; ok {
		s.mu.Unlock()
		return
	}
	c := newConnection(NewTrain(address, d.Name))
	s.connections[address] = c
	snapshot := c.train.Clone()
	s.mu.Unlock()

	s.logger.Printf("Service: new train %s (%s)", snapshot.Name, address)
	s.broadcast(snapshot)
}
