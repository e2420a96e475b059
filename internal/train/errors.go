package train

import "errors"

var (
	ErrUnknownTrain         = errors.New("unknown train")
	ErrUnknownPort          = errors.New("unknown port")
	ErrTrainOffline         = errors.New("train offline")
	ErrBluetoothUnavailable = errors.New("bluetooth unavailable")
)
