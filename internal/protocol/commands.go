package protocol

import "fmt"

// Command is a request code sent after SyncByte.
type Command byte

const (
	CmdScan      Command = 0x20
	CmdStop      Command = 0x25
	CmdReset     Command = 0x40
	CmdGetInfo   Command = 0x50
	CmdGetHealth Command = 0x52
)

func (c Command) String() string {
	switch c {
	case CmdScan:
		return "scan"
	case CmdStop:
		return "stop"
	case CmdReset:
		return "reset"
	case CmdGetInfo:
		return "get_info"
	case CmdGetHealth:
		return "get_health"
	default:
		return fmt.Sprintf("command(0x%02X)", byte(c))
	}
}

// ResponseSize is the number of bytes a fixed-size reply to c occupies,
// descriptor included. Commands without a fixed reply return 0.
func (c Command) ResponseSize() int {
	switch c {
	case CmdGetInfo:
		return InfoResponseSize
	case CmdGetHealth:
		return HealthResponseSize
	default:
		return 0
	}
}

// EncodeCommand builds the two-byte request frame for c.
func EncodeCommand(c Command) []byte {
	return []byte{SyncByte, byte(c)}
}
