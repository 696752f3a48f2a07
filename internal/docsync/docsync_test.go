package docsync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/hermes/internal/contentnet"
	"github.com/r3e-network/hermes/internal/logging"
)

// fakeNetwork is a minimal in-memory stand-in for the content network
// collaborator, enough to drive Post/handle* without real pub/sub or
// content-addressed storage.
type fakeNetwork struct {
	mu        sync.Mutex
	subs      map[string][]func(contentnet.Message)
	content   map[string][]byte
	providers []string
	published []contentnet.Message
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		subs:      make(map[string][]func(contentnet.Message)),
		content:   make(map[string][]byte),
		providers: []string{"some-other-peer"},
	}
}

func (f *fakeNetwork) seed(cid, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[string(cid)] = data
}

func (f *fakeNetwork) Publish(ctx context.Context, topic string, data []byte) error {
	f.mu.Lock()
	f.published = append(f.published, contentnet.Message{Topic: topic, Data: data})
	f.mu.Unlock()
	return nil
}

func (f *fakeNetwork) Subscribe(ctx context.Context, topic string, handler func(contentnet.Message)) error {
	f.mu.Lock()
	f.subs[topic] = append(f.subs[topic], handler)
	f.mu.Unlock()
	return nil
}

func (f *fakeNetwork) AnnounceProvider(ctx context.Context, cid []byte) error { return nil }

func (f *fakeNetwork) Providers(ctx context.Context, cid []byte) ([]string, error) {
	return f.providers, nil
}

func (f *fakeNetwork) Fetch(ctx context.Context, cid []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.content[string(cid)]
	if !ok {
		return nil, fmt.Errorf("no such content: %x", cid)
	}
	return data, nil
}

func (f *fakeNetwork) Pin(ctx context.Context, cid []byte, data []byte) error {
	f.seed(cid, data)
	return nil
}

func (f *fakeNetwork) Unpin(ctx context.Context, cid []byte) error {
	f.mu.Lock()
	delete(f.content, string(cid))
	f.mu.Unlock()
	return nil
}

func testLogger() *logging.Logger { return logging.NewDefault("docsync-test") }

// =============================================================================
// Identity signing
// =============================================================================

func TestSignAndVerifyRoundtrip(t *testing.T) {
	identity, err := NewPeerIdentity()
	require.NoError(t, err)

	payload := []byte("hello world")
	sig := identity.sign(payload)
	assert.True(t, verifySignature(identity.ID(), payload, sig))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	identity, err := NewPeerIdentity()
	require.NoError(t, err)

	payload := []byte("hello world")
	sig := identity.sign(payload)
	assert.False(t, verifySignature(identity.ID(), []byte("tampered"), sig))
}

func TestVerifyRejectsMalformedPeerID(t *testing.T) {
	assert.False(t, verifySignature("not-base58-!!!", []byte("x"), []byte("y")))
}

// =============================================================================
// Channel construction
// =============================================================================

func TestNewChannelRejectsOversizedBase(t *testing.T) {
	identity, err := NewPeerIdentity()
	require.NoError(t, err)
	base := strings.Repeat("a", maxTopicBase+1)
	_, err = NewChannel(base, identity, newFakeNetwork(), DefaultConfig(), testLogger(), nil)
	assert.Error(t, err)
}

// =============================================================================
// Post / pin / announce
// =============================================================================

func TestPostInsertsDocumentAndAnnounces(t *testing.T) {
	identity, err := NewPeerIdentity()
	require.NoError(t, err)
	net := newFakeNetwork()

	ch, err := NewChannel("docs", identity, net, DefaultConfig(), testLogger(), nil)
	require.NoError(t, err)

	cid := []byte("cid-1")
	require.NoError(t, ch.Post(context.Background(), cid, []byte("document body")))

	assert.True(t, ch.Digest() != [32]byte{})
	assert.Equal(t, 1, ch.Count())

	net.mu.Lock()
	defer net.mu.Unlock()
	require.Len(t, net.published, 1)
	assert.Equal(t, "docs.new", net.published[0].Topic)
}

func TestPostFailsWithoutDistinctProvider(t *testing.T) {
	identity, err := NewPeerIdentity()
	require.NoError(t, err)
	net := newFakeNetwork()
	net.providers = nil // never any distinct provider

	ch, err := NewChannel("docs", identity, net, DefaultConfig(), testLogger(), nil)
	require.NoError(t, err)

	err = ch.Post(context.Background(), []byte("cid-1"), []byte("body"))
	assert.Error(t, err)
}

// =============================================================================
// handleNew — inbound announcement processing
// =============================================================================

func TestHandleNewPinsPreviouslyUnknownDocument(t *testing.T) {
	identity, err := NewPeerIdentity()
	require.NoError(t, err)
	net := newFakeNetwork()
	ch, err := NewChannel("docs", identity, net, DefaultConfig(), testLogger(), nil)
	require.NoError(t, err)

	sender, err := NewPeerIdentity()
	require.NoError(t, err)

	cid := []byte("remote-doc")
	net.seed(cid, []byte("remote body"))

	payload := &Payload{
		Version:   protocolVersion,
		ID:        newMessageID(),
		Sender:    sender.ID(),
		SetDigest: [32]byte{9},
		Count:     1,
		Kind:      "new",
		Documents: [][]byte{cid},
	}
	env, err := encodeEnvelope(sender, payload)
	require.NoError(t, err)
	wire, err := json.Marshal(env)
	require.NoError(t, err)

	ch.handleNew(contentnet.Message{Topic: "docs.new", Data: wire})

	assert.True(t, ch.tree.Contains(KeyForCID(cid)))
}

func TestHandleNewDropsMessageWithInvalidSignature(t *testing.T) {
	identity, err := NewPeerIdentity()
	require.NoError(t, err)
	net := newFakeNetwork()
	ch, err := NewChannel("docs", identity, net, DefaultConfig(), testLogger(), nil)
	require.NoError(t, err)

	sender, err := NewPeerIdentity()
	require.NoError(t, err)
	payload := &Payload{Version: protocolVersion, ID: newMessageID(), Sender: sender.ID(), Kind: "new", Documents: [][]byte{[]byte("x")}}
	env, err := encodeEnvelope(sender, payload)
	require.NoError(t, err)
	env.Signature = []byte("corrupted")
	wire, err := json.Marshal(env)
	require.NoError(t, err)

	ch.handleNew(contentnet.Message{Topic: "docs.new", Data: wire})
	assert.Equal(t, 0, ch.Count())
}

func TestHandleNewDedupsRepeatedMessage(t *testing.T) {
	identity, err := NewPeerIdentity()
	require.NoError(t, err)
	net := newFakeNetwork()
	ch, err := NewChannel("docs", identity, net, DefaultConfig(), testLogger(), nil)
	require.NoError(t, err)

	sender, err := NewPeerIdentity()
	require.NoError(t, err)
	cid := []byte("doc-dup")
	net.seed(cid, []byte("body"))

	msgID := newMessageID()
	payload := &Payload{Version: protocolVersion, ID: msgID, Sender: sender.ID(), Kind: "new", Documents: [][]byte{cid}}
	env, err := encodeEnvelope(sender, payload)
	require.NoError(t, err)
	wire, err := json.Marshal(env)
	require.NoError(t, err)

	ch.handleNew(contentnet.Message{Topic: "docs.new", Data: wire})
	assert.Equal(t, 1, ch.Count())

	ch.handleNew(contentnet.Message{Topic: "docs.new", Data: wire})
	assert.Equal(t, 1, ch.Count(), "second delivery of the same message id must be a no-op")
}
