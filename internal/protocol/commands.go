package protocol

// Frame signatures and framing constants.
const (
	SigCommand = '!'
	SigBlock   = '#'

	Terminator = "\r\n"

	MaxCommandLen = 0xF   // one hex digit of length
	MaxBlockLen   = 0x100 // receive buffer of the device
)

// Commands understood by every BasicProtocol device.
const (
	CmdIDN           = "*IDN?"
	CmdDNA           = "*DNA_PORT?"
	CmdAdjIntensity  = "ADJ INTENSITY"
	CmdReadIntensity = "READ INTENSITY"
	CmdCaptureBTF    = "CAPTURE BTF"
	CmdBTFReadCount  = "BTF READ COUNT"
	CmdReadBTF       = "READ BTF"
	CmdUpdateBits    = "UPDATE BITS"
	CmdReadBits      = "READ BITS"
)

// CmdTest does nothing on the device; it checks that stuffed DLE bytes
// survive the trip.
const CmdTest = "\x10TEST\x10"

// SignatureName returns a human-readable name for a signature byte.
func SignatureName(sig byte) string {
	switch sig {
	case SigCommand:
		return "command"
	case SigBlock:
		return "block"
	case 0:
		return "no message"
	default:
		return "unknown"
	}
}
