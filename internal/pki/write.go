package pki

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/tannaurus/nsm-nitro-enclave-utils/internal/errs"
)

// File names of an encoded chain, without extension.
const (
	FileRoot         = "root-certificate"
	FileIntermediate = "int-certificate"
	FileEnd          = "end-certificate"
	FileEndKey       = "end-signing-key"
)

// Path returns the path of the given file in dir.  The file's extension is
// the format, e.g., "end-certificate.pem".
func Path(dir, name string, format Format) string {
	return filepath.Join(dir, name+"."+string(format))
}

// WriteDir writes the encoded chain to the given directory, which is created
// if necessary.  The signing key is only readable by its owner.
func (e *Encoded) WriteDir(dir string, format Format) (err error) {
	defer errs.Wrap(&err, "failed to write chain to %q", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		data []byte
		perm os.FileMode
	}{
		{FileRoot, e.RootCertificate, 0o644},
		{FileIntermediate, e.IntermediateCertificate, 0o644},
		{FileEnd, e.EndCertificate, 0o644},
		{FileEndKey, e.EndSigningKey, 0o600},
	} {
		if err := os.WriteFile(Path(dir, f.name, format), f.data, f.perm); err != nil {
			return err
		}
	}
	return nil
}

// MarshalFormat encodes the chain as a JSON object.  PEM-encoded values are
// strings, and DER-encoded values are Base64 strings.
func (e *Encoded) MarshalFormat(format Format) ([]byte, error) {
	if format == DER {
		return json.Marshal(e)
	}
	return json.Marshal(map[string]string{
		"rootCertificate": string(e.RootCertificate),
		"intCertificate":  string(e.IntermediateCertificate),
		"endCertificate":  string(e.EndCertificate),
		"endSigningKey":   string(e.EndSigningKey),
	})
}
