package nsm

// Request is one of the request variants defined in this package.  The set of
// variants is closed.
type Request interface {
	Kind() Kind
	isRequest()
}

// DescribeNSM asks for the module's version and configuration.
type DescribeNSM struct{}

// DescribePCR asks for the value and lock state of a single PCR.
type DescribePCR struct {
	Index uint16 `cbor:"index" json:"index"`
}

// ExtendPCR asks to extend a PCR with the given data.
type ExtendPCR struct {
	Index uint16 `cbor:"index" json:"index"`
	Data  []byte `cbor:"data" json:"data"`
}

// LockPCR asks to lock a single PCR.
type LockPCR struct {
	Index uint16 `cbor:"index" json:"index"`
}

// LockPCRs asks to lock the PCRs [0, Range).
type LockPCRs struct {
	Range uint16 `cbor:"range" json:"range"`
}

// GetRandom asks for random bytes.
type GetRandom struct{}

// Attestation asks for a signed attestation document that embeds the given
// optional fields.
type Attestation struct {
	UserData  []byte `cbor:"user_data,omitempty" json:"user_data,omitempty"`
	Nonce     []byte `cbor:"nonce,omitempty" json:"nonce,omitempty"`
	PublicKey []byte `cbor:"public_key,omitempty" json:"public_key,omitempty"`
}

func (DescribeNSM) Kind() Kind { return KindDescribeNSM }
func (DescribePCR) Kind() Kind { return KindDescribePCR }
func (ExtendPCR) Kind() Kind   { return KindExtendPCR }
func (LockPCR) Kind() Kind     { return KindLockPCR }
func (LockPCRs) Kind() Kind    { return KindLockPCRs }
func (GetRandom) Kind() Kind   { return KindGetRandom }
func (Attestation) Kind() Kind { return KindAttestation }

func (DescribeNSM) isRequest() {}
func (DescribePCR) isRequest() {}
func (ExtendPCR) isRequest()   {}
func (LockPCR) isRequest()     {}
func (LockPCRs) isRequest()    {}
func (GetRandom) isRequest()   {}
func (Attestation) isRequest() {}
