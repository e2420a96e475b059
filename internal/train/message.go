package train

import "strings"

// MessageType is the LEGO wireless protocol message type found at offset 2.
type MessageType byte

const (
	MessageTypeHubProperties       MessageType = 0x01
	MessageTypeHubActions          MessageType = 0x02
	MessageTypeHubAlerts           MessageType = 0x03
	MessageTypeHubAttachedIO       MessageType = 0x04
	MessageTypeError               MessageType = 0x05
	MessageTypePortModeInformation MessageType = 0x44

	// MessageTypeUnrecognized stands for every type the service has no handler for.
	MessageTypeUnrecognized MessageType = 0xFF
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeHubProperties:
		return "HUB_PROPERTIES"
	case MessageTypeHubActions:
		return "HUB_ACTIONS"
	case MessageTypeHubAlerts:
		return "HUB_ALERTS"
	case MessageTypeHubAttachedIO:
		return "HUB_ATTACHED_IO"
	case MessageTypeError:
		return "ERROR"
	case MessageTypePortModeInformation:
		return "PORT_MODE_INFORMATION"
	}
	return "UNRECOGNIZED"
}

// Hub property ids used in HUB_PROPERTIES messages.
const (
	hubPropertyRSSI    = 0x05
	hubPropertyBattery = 0x06
)

// Attached IO events.
const (
	ioEventDetached = 0x00
	ioEventAttached = 0x01
)

// Message is a single protocol buffer: declared length, hub id, type, payload.
type Message struct {
	data []byte
}

// NewMessage wraps a copy of data. A declared length larger than the buffer is
// clamped to the buffer length and written back to byte 0.
func NewMessage(data []byte) Message {
	buf := make([]byte, len(data))
	copy(buf, data)
	if len(buf) > 0 && int(buf[0]) > len(buf) {
		buf[0] = byte(len(buf))
	}
	return Message{data: buf}
}

// Bytes returns the buffer ready to be written to the hub.
func (m Message) Bytes() []byte {
	return m.data
}

// Len returns the declared message length.
func (m Message) Len() int {
	return int(m.ByteAt(0))
}

// ByteAt returns the byte at index, or 0 past the end of the buffer.
func (m Message) ByteAt(index int) byte {
	if index < 0 || index >= len(m.data) {
		return 0
	}
	return m.data[index]
}

// Int8At returns the byte at index interpreted as signed.
func (m Message) Int8At(index int) int8 {
	return int8(m.ByteAt(index))
}

// Type classifies the message by its type byte.
func (m Message) Type() MessageType {
	if len(m.data) < 3 {
		return MessageTypeUnrecognized
	}
	switch t := MessageType(m.data[2]); t {
	case MessageTypeHubProperties, MessageTypeHubActions, MessageTypeHubAlerts,
		MessageTypeHubAttachedIO, MessageTypeError, MessageTypePortModeInformation:
		return t
	}
	return MessageTypeUnrecognized
}

// String extracts the printable ASCII characters of a fixed-width field.
// The field is cut short at the end of the buffer.
func (m Message) String(start, length int) string {
	var sb strings.Builder
	for i := start; i < start+length && i < len(m.data); i++ {
		if c := m.data[i]; c >= 0x20 && c < 0x7F {
			sb.WriteByte(c)
		}
	}
	return strings.TrimSpace(sb.String())
}

func MotorPowerChange(portID, power int) Message {
	return NewMessage([]byte{8, 0, 0x81, byte(portID), 0x11, 0x51, 0, byte(int8(power))})
}

func LEDChange(colorIndex byte) Message {
	return NewMessage([]byte{8, 0, 0x81, LEDPort, 0x11, 0x51, 0, colorIndex})
}

// LEDChangeRGB switches the LED to RGB mode. Hubs in the field ignore it, LEDChange is used instead.
func LEDChangeRGB(c Color) Message {
	return NewMessage([]byte{10, 0, 0x81, LEDPort, 0x11, 0x51, 1, byte(c.R), byte(c.G), byte(c.B)})
}

func Shutdown() Message {
	return NewMessage([]byte{4, 0, 0x02, 0x01})
}

func BatteryRequest() Message {
	return NewMessage([]byte{5, 0, 0x01, hubPropertyBattery, 0x05})
}

func RSSIRequest() Message {
	return NewMessage([]byte{5, 0, 0x01, hubPropertyRSSI, 0x05})
}

func PortModeInfoRequest(portID, mode, infoType int) Message {
	return NewMessage([]byte{6, 0, 0x22, byte(portID), byte(mode), byte(infoType)})
}

// PortInfoRequest is the port information request. Its declared length of 6
// is normalized to the 5 bytes actually sent.
func PortInfoRequest(portID, infoType int) Message {
	return NewMessage([]byte{6, 0, 0x21, byte(portID), byte(infoType)})
}
