package train

import "encoding/json"

// LEDPort is the hub port id the built-in RGB light is attached to.
const LEDPort = 0x32

// Port is a device attached to one of a hub's ports.
type Port struct {
	Address    string `json:"address"`
	ID         int    `json:"id"`
	DeviceType int    `json:"deviceType"`
	Power      int    `json:"power"`
}

// IsMotor reports whether the attached device accepts motor power commands.
func (p Port) IsMotor() bool {
	return p.DeviceType == 1 || p.DeviceType == 2
}

// UnmarshalJSON accepts "url" in place of "address".
func (p *Port) UnmarshalJSON(data []byte) error {
	type plain Port
	aux := struct {
		plain
		URL string `json:"url"`
	}{plain: plain(*p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*p = Port(aux.plain)
	if p.Address == "" {
		p.Address = aux.URL
	}
	return nil
}
