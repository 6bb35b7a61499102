package nsm

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
)

// ErrMalformed is returned if a message cannot be decoded into one of the
// protocol's variants.
var ErrMalformed = errors.New("malformed NSM message")

// Variants are externally tagged: a variant without fields is encoded as its
// tag (a text string) while a variant with fields is encoded as a map holding
// a single entry, from the tag to the fields.  This is the encoding that
// genuine hardware speaks.

// EncodeRequest encodes the given request in the NSM wire format.
func EncodeRequest(r Request) ([]byte, error) {
	switch r := r.(type) {
	case DescribeNSM, GetRandom:
		return cbor.Marshal(string(r.Kind()))
	case DescribePCR, ExtendPCR, LockPCR, LockPCRs, Attestation:
		return encodeVariant(r.Kind(), r)
	case nil:
		return nil, errs.IsNil
	}
	return nil, fmt.Errorf("unknown request type %T", r)
}

// EncodeResponse encodes the given response in the NSM wire format.
func EncodeResponse(r Response) ([]byte, error) {
	switch r := r.(type) {
	case LockPCRResponse, LockPCRsResponse:
		return cbor.Marshal(string(r.Kind()))
	case ErrorResponse:
		return encodeVariant(KindError, string(r.Code))
	case DescribeNSMResponse, DescribePCRResponse, ExtendPCRResponse,
		GetRandomResponse, AttestationResponse:
		return encodeVariant(r.Kind(), r)
	case nil:
		return nil, errs.IsNil
	}
	return nil, fmt.Errorf("unknown response type %T", r)
}

// DecodeRequest decodes a request that is in the NSM wire format.
func DecodeRequest(b []byte) (_ Request, err error) {
	defer errs.WrapErr(&err, ErrMalformed)

	kind, body, err := decodeVariant(b)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindDescribeNSM:
		return DescribeNSM{}, nil
	case KindGetRandom:
		return GetRandom{}, nil
	case KindDescribePCR:
		return decodeBody[DescribePCR](kind, body)
	case KindExtendPCR:
		return decodeBody[ExtendPCR](kind, body)
	case KindLockPCR:
		return decodeBody[LockPCR](kind, body)
	case KindLockPCRs:
		return decodeBody[LockPCRs](kind, body)
	case KindAttestation:
		return decodeBody[Attestation](kind, body)
	}
	return nil, fmt.Errorf("unknown request %q", kind)
}

// DecodeResponse decodes a response that is in the NSM wire format.  Variants
// without fields are accepted both as a bare tag and as a single-entry map.
func DecodeResponse(b []byte) (_ Response, err error) {
	defer errs.WrapErr(&err, ErrMalformed)

	kind, body, err := decodeVariant(b)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindLockPCR:
		return LockPCRResponse{}, nil
	case KindLockPCRs:
		return LockPCRsResponse{}, nil
	case KindError:
		code, err := decodeBody[ErrorCode](kind, body)
		if err != nil {
			return nil, err
		}
		if !code.Valid() {
			return nil, fmt.Errorf("unknown error code %q", code)
		}
		return ErrorResponse{Code: code}, nil
	case KindDescribeNSM:
		return decodeBody[DescribeNSMResponse](kind, body)
	case KindDescribePCR:
		return decodeBody[DescribePCRResponse](kind, body)
	case KindExtendPCR:
		return decodeBody[ExtendPCRResponse](kind, body)
	case KindGetRandom:
		return decodeBody[GetRandomResponse](kind, body)
	case KindAttestation:
		return decodeBody[AttestationResponse](kind, body)
	}
	return nil, fmt.Errorf("unknown response %q", kind)
}

func encodeVariant(kind Kind, body any) ([]byte, error) {
	return cbor.Marshal(map[string]any{string(kind): body})
}

func decodeVariant(b []byte) (Kind, cbor.RawMessage, error) {
	var tag string
	if err := cbor.Unmarshal(b, &tag); err == nil {
		return Kind(tag), nil, nil
	}

	var m map[string]cbor.RawMessage
	if err := cbor.Unmarshal(b, &m); err != nil {
		return "", nil, err
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("expected exactly one variant but got %d", len(m))
	}
	var (
		kind Kind
		body cbor.RawMessage
	)
	for tag, b := range m {
		kind, body = Kind(tag), b
	}
	return kind, body, nil
}

func decodeBody[T any](kind Kind, body cbor.RawMessage) (T, error) {
	var v T
	if len(body) == 0 {
		return v, fmt.Errorf("%q is missing its fields", kind)
	}
	if err := cbor.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("failed to decode %q: %w", kind, err)
	}
	return v, nil
}
