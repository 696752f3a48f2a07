package trust

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/hermes/internal/herrors"
)

func genKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return priv
}

// =============================================================================
// Certificate store
// =============================================================================

func TestAddAndLookup(t *testing.T) {
	priv := genKey(t)
	store := NewStore()
	cert := store.Add(priv.PubKey())

	got, ok := store.Lookup(cert.ID)
	require.True(t, ok)
	assert.Equal(t, cert.ID, got.ID)
}

func TestLookupUnknownCertificate(t *testing.T) {
	store := NewStore()
	_, ok := store.Lookup("deadbeef")
	assert.False(t, ok)
}

func TestCertificateIDIsStableForSameKey(t *testing.T) {
	priv := genKey(t)
	id1 := CertificateID(priv.PubKey())
	id2 := CertificateID(priv.PubKey())
	assert.Equal(t, id1, id2)
}

// =============================================================================
// Signing payload canonicalization
// =============================================================================

func TestCanonicalBytesIndependentOfMapOrder(t *testing.T) {
	p1 := &SigningPayload{
		MetadataDigest: []byte{1, 2, 3},
		ModuleDigests: map[string][]byte{
			"b": {2},
			"a": {1},
		},
	}
	p2 := &SigningPayload{
		MetadataDigest: []byte{1, 2, 3},
		ModuleDigests: map[string][]byte{
			"a": {1},
			"b": {2},
		},
	}
	assert.Equal(t, p1.CanonicalBytes(), p2.CanonicalBytes())
	assert.Equal(t, p1.Digest(), p2.Digest())
}

func TestDigestChangesWithContent(t *testing.T) {
	p1 := &SigningPayload{MetadataDigest: []byte{1}}
	p2 := &SigningPayload{MetadataDigest: []byte{2}}
	assert.NotEqual(t, p1.Digest(), p2.Digest())
}

// =============================================================================
// Sign / Verify
// =============================================================================

func TestSignAndVerifyRoundtrip(t *testing.T) {
	priv := genKey(t)
	store := NewStore()
	store.Add(priv.PubKey())

	payload := &SigningPayload{
		MetadataDigest: []byte("meta"),
		ModuleDigests:  map[string][]byte{"core": []byte("digest")},
		SharedDigest:   []byte("shared"),
	}
	env := Sign(priv, payload)

	require.NoError(t, store.Verify(env, payload))
}

func TestVerifyRejectsUntrustedSigner(t *testing.T) {
	priv := genKey(t)
	store := NewStore() // priv's certificate never added

	payload := &SigningPayload{MetadataDigest: []byte("meta")}
	env := Sign(priv, payload)

	err := store.Verify(env, payload)
	require.Error(t, err)
	assert.True(t, herrors.Is(err, herrors.KindPackageInvalid))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	priv := genKey(t)
	store := NewStore()
	store.Add(priv.PubKey())

	payload := &SigningPayload{MetadataDigest: []byte("meta")}
	env := Sign(priv, payload)

	tampered := &SigningPayload{MetadataDigest: []byte("meta-tampered")}
	err := store.Verify(env, tampered)
	require.Error(t, err)
}
