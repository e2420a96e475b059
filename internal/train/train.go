package train

import (
	"encoding/json"
	"math"
	"sort"
)

// Train is the state of one hub, identified by its device address.
type Train struct {
	Address  string       `json:"address"`
	Name     string       `json:"name"`
	Battery  int          `json:"battery"`
	Distance float64      `json:"distance"`
	Online   bool         `json:"online"`
	Color    Color        `json:"color"`
	Ports    map[int]Port `json:"ports"`
}

// UnmarshalJSON also reads legacy documents, which keyed trains by "url" and
// stored the battery level as a fraction.
func (t *Train) UnmarshalJSON(data []byte) error {
	type plain Train
	aux := struct {
		plain
		URL     string   `json:"url"`
		Battery *float64 `json:"battery"`
	}{plain: plain(*t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*t = Train(aux.plain)
	if t.Address == "" {
		t.Address = aux.URL
	}
	if aux.Battery != nil {
		t.Battery = int(math.Round(*aux.Battery))
	}
	return nil
}

// NewTrain returns a train in its default state: offline, full battery, default color.
func NewTrain(address, name string) Train {
	return Train{
		Address: address,
		Name:    name,
		Battery: 100,
		Color:   DefaultColor,
		Ports:   make(map[int]Port),
	}
}

// Clone returns a copy that shares no mutable state with t.
func (t Train) Clone() Train {
	c := t
	c.Ports = make(map[int]Port, len(t.Ports))
	for id, p := range t.Ports {
		c.Ports[id] = p
	}
	return c
}

// SortedPorts returns the ports ordered by id.
func (t Train) SortedPorts() []Port {
	ports := make([]Port, 0, len(t.Ports))
	for _, p := range t.Ports {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].ID < ports[j].ID })
	return ports
}
