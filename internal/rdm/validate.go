package rdm

import "fmt"

// responseCommandClass returns the *_RESPONSE command class expected for a
// request's command class.
func responseCommandClass(cc CommandClass) CommandClass {
	switch cc {
	case DiscoveryCommand:
		return DiscoveryCommandResponse
	case GetCommand:
		return GetCommandResponse
	case SetCommand:
		return SetCommandResponse
	default:
		return cc
	}
}

// ValidateResponse checks that resp actually corresponds to req, per the
// mismatch taxonomy in spec.md §7. Returns CompletedOK and a nil error
// when everything lines up; otherwise returns the specific mismatch status
// and an error describing it.
func ValidateResponse(req *Request, resp *Response) (StatusCode, error) {
	if resp.TransactionNumber != req.TransactionNumber {
		return TransactionMismatch, fmt.Errorf("rdm: transaction mismatch: got %d, want %d", resp.TransactionNumber, req.TransactionNumber)
	}
	if resp.SourceUID != req.DestinationUID {
		return SrcUIDMismatch, fmt.Errorf("rdm: source uid mismatch: got %s, want %s", resp.SourceUID, req.DestinationUID)
	}
	if !resp.DestinationUID.DirectedToUID(req.SourceUID) {
		return DestUIDMismatch, fmt.Errorf("rdm: destination uid mismatch: got %s, want %s", resp.DestinationUID, req.SourceUID)
	}
	if resp.SubDevice != req.SubDevice {
		return SubDeviceMismatch, fmt.Errorf("rdm: sub device mismatch: got %d, want %d", resp.SubDevice, req.SubDevice)
	}
	if resp.CommandClass != responseCommandClass(req.CommandClass) {
		return CommandClassMismatch, fmt.Errorf("rdm: command class mismatch: got 0x%02x, want 0x%02x", resp.CommandClass, responseCommandClass(req.CommandClass))
	}
	if resp.ParamID != req.ParamID {
		return InvalidResponse, fmt.Errorf("rdm: pid mismatch: got 0x%04x, want 0x%04x", resp.ParamID, req.ParamID)
	}
	return CompletedOK, nil
}

// FragmentsMatch reports whether an ACK_OVERFLOW fragment corresponds to
// the first fragment of the same sequence: source, destination,
// sub-device, command class, and PID must all agree (spec.md §4.3).
func FragmentsMatch(first, fragment *Response) bool {
	return first.SourceUID == fragment.SourceUID &&
		first.DestinationUID == fragment.DestinationUID &&
		first.SubDevice == fragment.SubDevice &&
		first.CommandClass == fragment.CommandClass &&
		first.ParamID == fragment.ParamID
}
