package channel

// Phase is the connectivity state of the duplex channel. Callers never
// see a hard error for a dropped connection, only phase transitions.
type Phase int32

const (
	Disconnected Phase = iota
	Connecting
	Connected
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}
