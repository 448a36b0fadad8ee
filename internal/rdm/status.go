// Package rdm implements the RDM (ANSI E1.20) request/response value types,
// their wire pack/unpack, and the status-code taxonomy used to report
// outcomes up through the queueing controller and discovery engine.
package rdm

// StatusCode classifies the outcome of an RDM operation, in increasing
// order of severity. It is carried on every RDMReply; there is no
// out-of-band error channel (spec.md §7).
type StatusCode int

const (
	// DUBResponse is a valid DUB reply carrying a raw frame; not an error.
	DUBResponse StatusCode = iota
	// WasBroadcast indicates a broadcast request was sent; no reply expected.
	WasBroadcast
	// CompletedOK indicates an ACK was received with a response.
	CompletedOK
	// AckTimer indicates the responder asked for a later retry.
	AckTimer
	// NackReason indicates the responder refused the request.
	NackReason
	// Timeout indicates no response arrived within the wait time.
	Timeout
	// InvalidResponse indicates a framing or format error in the reply.
	InvalidResponse
	// ChecksumIncorrect indicates the response checksum did not match.
	ChecksumIncorrect
	// PacketTooShort indicates the response was too short to parse.
	PacketTooShort
	// PacketLengthMismatch indicates the declared and actual lengths disagree.
	PacketLengthMismatch
	// ParamLengthMismatch indicates the declared PDL and actual data length disagree.
	ParamLengthMismatch
	// TransactionMismatch indicates the reply's transaction number doesn't match the request.
	TransactionMismatch
	// SrcUIDMismatch indicates the reply's source UID doesn't match the request's destination.
	SrcUIDMismatch
	// DestUIDMismatch indicates the reply's destination UID doesn't match the request's source.
	DestUIDMismatch
	// SubDeviceMismatch indicates the reply's sub-device doesn't match the request's.
	SubDeviceMismatch
	// CommandClassMismatch indicates the reply's command class doesn't match the request's.
	CommandClassMismatch
	// WrongSubStartCode indicates the reply's sub-start code was not 0x01.
	WrongSubStartCode
	// InvalidResponseType indicates the reply's response type field is not recognized.
	InvalidResponseType
	// FailedToSend indicates a local send failure: queue full, packing
	// error, or the controller shutting down.
	FailedToSend
)

// String renders a human-readable name for the status code.
func (s StatusCode) String() string {
	switch s {
	case DUBResponse:
		return "DUB_RESPONSE"
	case WasBroadcast:
		return "WAS_BROADCAST"
	case CompletedOK:
		return "COMPLETED_OK"
	case AckTimer:
		return "ACK_TIMER"
	case NackReason:
		return "NACK_REASON"
	case Timeout:
		return "TIMEOUT"
	case InvalidResponse:
		return "INVALID_RESPONSE"
	case ChecksumIncorrect:
		return "CHECKSUM_INCORRECT"
	case PacketTooShort:
		return "PACKET_TOO_SHORT"
	case PacketLengthMismatch:
		return "PACKET_LENGTH_MISMATCH"
	case ParamLengthMismatch:
		return "PARAM_LENGTH_MISMATCH"
	case TransactionMismatch:
		return "TRANSACTION_MISMATCH"
	case SrcUIDMismatch:
		return "SRC_UID_MISMATCH"
	case DestUIDMismatch:
		return "DEST_UID_MISMATCH"
	case SubDeviceMismatch:
		return "SUB_DEVICE_MISMATCH"
	case CommandClassMismatch:
		return "COMMAND_CLASS_MISMATCH"
	case WrongSubStartCode:
		return "WRONG_SUB_START_CODE"
	case InvalidResponseType:
		return "INVALID_RESPONSE_TYPE"
	case FailedToSend:
		return "FAILED_TO_SEND"
	default:
		return "UNKNOWN_STATUS"
	}
}

// IsFailure reports whether the status represents a failed operation, as
// opposed to a successful terminal state (CompletedOK, WasBroadcast,
// DUBResponse) or a caller-actionable non-failure (AckTimer, NackReason).
func (s StatusCode) IsFailure() bool {
	switch s {
	case DUBResponse, WasBroadcast, CompletedOK, AckTimer, NackReason:
		return false
	default:
		return true
	}
}
