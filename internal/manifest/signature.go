package manifest

import (
	"crypto/x509"
	"fmt"
	"path"
	"strings"

	"github.com/digitorus/pkcs7"
)

const metaInf = "META-INF/"

// blockExtensions are the signature block types, by signing algorithm.
var blockExtensions = []string{".RSA", ".DSA", ".EC"}

// IsSignatureFile reports whether name is a signature file ("META-INF/*.SF").
func IsSignatureFile(name string) bool {
	return isMetaInfFile(name) && strings.EqualFold(path.Ext(name), ".SF")
}

// IsSignatureBlock reports whether name is a signature block
// ("META-INF/*.RSA", "*.DSA" or "*.EC").
func IsSignatureBlock(name string) bool {
	if !isMetaInfFile(name) {
		return false
	}
	ext := path.Ext(name)
	for _, e := range blockExtensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}

	return false
}

// SignatureBase returns the upper-cased name of a signature file or block
// without its extension, which pairs a signature file with its block.
func SignatureBase(name string) string {
	return strings.ToUpper(strings.TrimSuffix(name, path.Ext(name)))
}

func isMetaInfFile(name string) bool {
	if len(name) <= len(metaInf) || !strings.EqualFold(name[:len(metaInf)], metaInf) {
		return false
	}

	return !strings.Contains(name[len(metaInf):], "/")
}

// ParseSignatureBlock returns the certificates carried by a PKCS#7
// signature block. The certificate of the signer comes first.
func ParseSignatureBlock(data []byte) ([]*x509.Certificate, error) {
	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signature block: %w", err)
	}
	if len(p7.Certificates) == 0 {
		return nil, fmt.Errorf("%w: signature block without certificates", ErrInvalid)
	}

	certs := make([]*x509.Certificate, 0, len(p7.Certificates))
	signer := p7.GetOnlySigner()
	if signer != nil {
		certs = append(certs, signer)
	}
	for _, c := range p7.Certificates {
		if signer != nil && c.Equal(signer) {
			continue
		}
		certs = append(certs, c)
	}

	return certs, nil
}
