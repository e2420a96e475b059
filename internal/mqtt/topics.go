package mqtt

import "strings"

// Topics builds the topic names under a configurable prefix.
//
//	<prefix>/status             bridge online/offline (retained, also the LWT)
//	<prefix>/command            fleet commands
//	<prefix>/<address>/state    train snapshot (retained)
type Topics struct {
	Prefix string
}

func (t Topics) base() string {
	return strings.TrimSuffix(t.Prefix, "/")
}

func (t Topics) Status() string {
	return t.base() + "/status"
}

func (t Topics) Command() string {
	return t.base() + "/command"
}

func (t Topics) TrainState(address string) string {
	return t.base() + "/" + address + "/state"
}

// AllTrainStates matches every train state topic.
func (t Topics) AllTrainStates() string {
	return t.base() + "/+/state"
}
