// Package nsm models the request/response protocol of the Nitro Secure Module
// (NSM) as a closed set of Go types, together with the module's CBOR wire
// encoding.  Every implementation of Module speaks this protocol, regardless
// of whether it emulates the module or talks to genuine hardware.
package nsm

// Kind is the tag that identifies a request or response variant on the wire.
type Kind string

const (
	KindDescribeNSM Kind = "DescribeNSM"
	KindDescribePCR Kind = "DescribePCR"
	KindExtendPCR   Kind = "ExtendPCR"
	KindLockPCR     Kind = "LockPCR"
	KindLockPCRs    Kind = "LockPCRs"
	KindGetRandom   Kind = "GetRandom"
	KindAttestation Kind = "Attestation"
	KindError       Kind = "Error"
)

// Module answers NSM requests.  Protocol-level failures are reported as an
// ErrorResponse and never as a Go error, exactly like genuine hardware does.
type Module interface {
	Process(Request) Response
	Close() error
}

// ErrorCode is the error taxonomy of the NSM.
type ErrorCode string

const (
	Success          ErrorCode = "Success"
	InvalidArgument  ErrorCode = "InvalidArgument"
	InvalidIndex     ErrorCode = "InvalidIndex"
	InvalidResponse  ErrorCode = "InvalidResponse"
	ReadOnlyIndex    ErrorCode = "ReadOnlyIndex"
	InvalidOperation ErrorCode = "InvalidOperation"
	BufferTooSmall   ErrorCode = "BufferTooSmall"
	InputTooLarge    ErrorCode = "InputTooLarge"
	InternalError    ErrorCode = "InternalError"
)

var errorCodes = map[ErrorCode]struct{}{
	Success:          {},
	InvalidArgument:  {},
	InvalidIndex:     {},
	InvalidResponse:  {},
	ReadOnlyIndex:    {},
	InvalidOperation: {},
	BufferTooSmall:   {},
	InputTooLarge:    {},
	InternalError:    {},
}

// Valid returns true if the error code is part of the NSM's taxonomy.
func (c ErrorCode) Valid() bool {
	_, ok := errorCodes[c]
	return ok
}

func (c ErrorCode) Error() string {
	return "nsm: " + string(c)
}
