package nsm

// Response is one of the response variants defined in this package.  The set
// of variants is closed.
type Response interface {
	Kind() Kind
	isResponse()
}

// DescribeNSMResponse describes the module.
type DescribeNSMResponse struct {
	VersionMajor uint16   `cbor:"version_major" json:"version_major"`
	VersionMinor uint16   `cbor:"version_minor" json:"version_minor"`
	VersionPatch uint16   `cbor:"version_patch" json:"version_patch"`
	ModuleID     string   `cbor:"module_id" json:"module_id"`
	MaxPCRs      uint16   `cbor:"max_pcrs" json:"max_pcrs"`
	LockedPCRs   []uint16 `cbor:"locked_pcrs" json:"locked_pcrs"`
	Digest       string   `cbor:"digest" json:"digest"`
}

// DescribePCRResponse carries a PCR's value and lock state.
type DescribePCRResponse struct {
	Lock bool   `cbor:"lock" json:"lock"`
	Data []byte `cbor:"data" json:"data"`
}

// ExtendPCRResponse carries a PCR's value after extension.
type ExtendPCRResponse struct {
	Data []byte `cbor:"data" json:"data"`
}

// LockPCRResponse acknowledges a LockPCR request.
type LockPCRResponse struct{}

// LockPCRsResponse acknowledges a LockPCRs request.
type LockPCRsResponse struct{}

// GetRandomResponse carries random bytes.
type GetRandomResponse struct {
	Random []byte `cbor:"random" json:"random"`
}

// AttestationResponse carries a signed attestation document.
type AttestationResponse struct {
	Document []byte `cbor:"document" json:"document"`
}

// ErrorResponse reports that a request failed.
type ErrorResponse struct {
	Code ErrorCode `json:"error"`
}

func (DescribeNSMResponse) Kind() Kind { return KindDescribeNSM }
func (DescribePCRResponse) Kind() Kind { return KindDescribePCR }
func (ExtendPCRResponse) Kind() Kind   { return KindExtendPCR }
func (LockPCRResponse) Kind() Kind     { return KindLockPCR }
func (LockPCRsResponse) Kind() Kind    { return KindLockPCRs }
func (GetRandomResponse) Kind() Kind   { return KindGetRandom }
func (AttestationResponse) Kind() Kind { return KindAttestation }
func (ErrorResponse) Kind() Kind       { return KindError }

func (DescribeNSMResponse) isResponse() {}
func (DescribePCRResponse) isResponse() {}
func (ExtendPCRResponse) isResponse()   {}
func (LockPCRResponse) isResponse()     {}
func (LockPCRsResponse) isResponse()    {}
func (GetRandomResponse) isResponse()   {}
func (AttestationResponse) isResponse() {}
func (ErrorResponse) isResponse()       {}

// Err returns a new error response with the given code.
func Err(code ErrorCode) Response {
	return ErrorResponse{Code: code}
}
