// Package trust implements the certificate store and signature
// verification described in §3.5 and §4.8: a signing payload is a
// canonical map of per-file digests, authenticated by a certificate whose
// identifier is a hash of its public material.
package trust

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/r3e-network/hermes/internal/herrors"
)

// Certificate is a trust-anchor entry: a public key plus the identifier
// derived from it.
type Certificate struct {
	ID        string
	PublicKey *secp256k1.PublicKey
}

// CertificateID derives a certificate's identifier as a hash of its
// public material.
func CertificateID(pub *secp256k1.PublicKey) string {
	sum := sha256.Sum256(pub.SerializeCompressed())
	return hex.EncodeToString(sum[:])
}

// Store holds the set of certificates the engine trusts.
type Store struct {
	mu    sync.RWMutex
	certs map[string]*Certificate
}

// NewStore returns an empty trust store.
func NewStore() *Store {
	return &Store{certs: make(map[string]*Certificate)}
}

// Add registers a certificate under its derived identifier.
func (s *Store) Add(pub *secp256k1.PublicKey) *Certificate {
	cert := &Certificate{ID: CertificateID(pub), PublicKey: pub}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certs[cert.ID] = cert
	return cert
}

// Lookup returns the certificate for id, or false if not trusted.
func (s *Store) Lookup(id string) (*Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certs[id]
	return cert, ok
}

// SigningPayload is the canonical digest map over a package's files:
// hash of metadata, hash of each module package, hash of shared trees.
type SigningPayload struct {
	MetadataDigest []byte            `json:"metadata_digest"`
	ModuleDigests  map[string][]byte `json:"module_digests"`
	SharedDigest   []byte            `json:"shared_digest"`
}

// CanonicalBytes serializes the payload deterministically (sorted module
// names) so signature verification is reproducible.
func (p *SigningPayload) CanonicalBytes() []byte {
	names := make([]string, 0, len(p.ModuleDigests))
	for name := range p.ModuleDigests {
		names = append(names, name)
	}
	sort.Strings(names)

	type entry struct {
		Name   string `json:"name"`
		Digest string `json:"digest"`
	}
	ordered := make([]entry, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, entry{Name: name, Digest: hex.EncodeToString(p.ModuleDigests[name])})
	}

	out, _ := json.Marshal(struct {
		Metadata string  `json:"metadata_digest"`
		Modules  []entry `json:"module_digests"`
		Shared   string  `json:"shared_digest"`
	}{
		Metadata: hex.EncodeToString(p.MetadataDigest),
		Modules:  ordered,
		Shared:   hex.EncodeToString(p.SharedDigest),
	})
	return out
}

// Digest returns the SHA-256 digest of the canonical payload bytes.
func (p *SigningPayload) Digest() [32]byte {
	return sha256.Sum256(p.CanonicalBytes())
}

// Envelope is a detached signature over a SigningPayload's digest.
type Envelope struct {
	CertificateID string `json:"certificate_id"`
	Signature     []byte `json:"signature"`
}

// Sign produces an Envelope over payload's digest using priv, tagged with
// the signer's derived certificate identifier.
func Sign(priv *secp256k1.PrivateKey, payload *SigningPayload) *Envelope {
	digest := payload.Digest()
	sig := ecdsa.Sign(priv, digest[:])
	return &Envelope{
		CertificateID: CertificateID(priv.PubKey()),
		Signature:     sig.Serialize(),
	}
}

// Verify checks env against payload: the certificate must be known to
// store, and the signature must be valid over the recomputed digest
// (§4.2 step 5). Returns untrusted-signer or signature-invalid HermesErrors.
func (s *Store) Verify(env *Envelope, payload *SigningPayload) error {
	cert, ok := s.Lookup(env.CertificateID)
	if !ok {
		return herrors.UntrustedSigner(env.CertificateID)
	}

	sig, err := ecdsa.ParseDERSignature(env.Signature)
	if err != nil {
		return herrors.SignatureInvalid(env.CertificateID, err)
	}

	digest := payload.Digest()
	if !sig.Verify(digest[:], cert.PublicKey) {
		return herrors.SignatureInvalid(env.CertificateID, fmt.Errorf("signature does not verify"))
	}
	return nil
}
