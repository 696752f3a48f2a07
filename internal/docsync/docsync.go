// Package docsync implements the Document-Sync Protocol Engine (§4.7):
// per-channel announce/solicit/diff exchanged over pub/sub, maintaining
// eventual consistency of a pinned document set across peers without a
// central authority.
package docsync

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/r3e-network/hermes/internal/contentnet"
	"github.com/r3e-network/hermes/internal/herrors"
	"github.com/r3e-network/hermes/internal/logging"
	"github.com/r3e-network/hermes/internal/metrics"
)

const (
	protocolVersion = 1
	maxWireBytes    = 1 << 20 // 1 MiB
	maxTopicBase    = 120
)

// PeerIdentity signs and is identified by a secp256k1 keypair, used to
// authenticate this peer's wire messages.
type PeerIdentity struct {
	priv *secp256k1.PrivateKey
}

// NewPeerIdentity generates a fresh identity.
func NewPeerIdentity() (*PeerIdentity, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &PeerIdentity{priv: priv}, nil
}

// ID returns the peer's public identity string: its compressed public key,
// base58-encoded in the style of a blockchain account address.
func (p *PeerIdentity) ID() string {
	return base58.Encode(p.priv.PubKey().SerializeCompressed())
}

func (p *PeerIdentity) sign(payload []byte) []byte {
	digest := sha256.Sum256(payload)
	sig := ecdsa.Sign(p.priv, digest[:])
	return sig.Serialize()
}

func verifySignature(peerID string, payload, signature []byte) bool {
	pubBytes, err := base58.Decode(peerID)
	if err != nil {
		return false
	}
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(payload)
	return sig.Verify(digest[:], pub)
}

// Payload is the common header every topic's message carries (§4.7
// Message envelope).
type Payload struct {
	Version   int       `json:"version"`
	ID        [16]byte  `json:"id"`
	Sender    string    `json:"sender"`
	TimestampMillis int64 `json:"timestamp_millis"`
	SetDigest [32]byte  `json:"set_digest"`
	Count     int       `json:"count"`

	Kind string `json:"kind"` // "new", "syn", "dif"

	// .new / .dif inline document list, or a manifest reference when the
	// inline form would exceed maxWireBytes.
	Documents  [][]byte `json:"documents,omitempty"`
	ManifestID []byte   `json:"manifest_id,omitempty"`
	ManifestTTLMillis int64 `json:"manifest_ttl_millis,omitempty"`

	// .syn / .dif sketch exchange.
	SketchSize  int      `json:"sketch_size,omitempty"`
	SketchCells []uint64 `json:"sketch_cells,omitempty"`
	Round       int      `json:"round,omitempty"`
}

// Envelope is the wire format: [payload, signature], signature covering
// the payload bytes exactly.
type Envelope struct {
	Payload   []byte `json:"payload"`
	Signature []byte `json:"signature"`
}

func encodeEnvelope(identity *PeerIdentity, p *Payload) (*Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxWireBytes {
		return nil, herrors.ProtocolError("", "message exceeds maximum wire size")
	}
	return &Envelope{Payload: raw, Signature: identity.sign(raw)}, nil
}

func decodeEnvelope(topic string, env *Envelope, trustedPeer func(sender string) bool) (*Payload, error) {
	if len(env.Payload) > maxWireBytes {
		return nil, herrors.ProtocolError(topic, "oversized message")
	}
	var p Payload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, herrors.ProtocolError(topic, "malformed payload")
	}
	if p.Version != protocolVersion {
		return nil, herrors.ProtocolError(topic, "unsupported protocol version")
	}
	if !verifySignature(p.Sender, env.Payload, env.Signature) {
		return nil, herrors.ProtocolError(topic, "invalid signature")
	}
	if trustedPeer != nil && !trustedPeer(p.Sender) {
		return nil, herrors.ProtocolError(topic, "untrusted sender")
	}
	return &p, nil
}

// PeerState is the per-remote-peer reconciliation state (§3.4, §4.7).
type PeerState int

const (
	Stable PeerState = iota
	Diverged
	Reconciling
)

func (s PeerState) String() string {
	switch s {
	case Stable:
		return "stable"
	case Diverged:
		return "diverged"
	case Reconciling:
		return "reconciling"
	default:
		return "unknown"
	}
}

type peerRecord struct {
	mu          sync.Mutex
	state       PeerState
	lastDigest  [32]byte
	lastCount   int
	round       int
	divergedAt  time.Time
	cancelTimer context.CancelFunc
}

// Config tunes timing and sizing knobs for a Channel (§4.7).
type Config struct {
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	JitterMin      time.Duration
	JitterMax      time.Duration
	ManifestTTL    time.Duration
	MaxInlineBytes int
	MaxRounds      int
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		BackoffMin:     200 * time.Millisecond,
		BackoffMax:     800 * time.Millisecond,
		JitterMin:      50 * time.Millisecond,
		JitterMax:      250 * time.Millisecond,
		ManifestTTL:    24 * time.Hour,
		MaxInlineBytes: maxWireBytes,
		MaxRounds:      2,
	}
}

// Channel runs the document-sync protocol over a single `<base>` topic
// namespace, maintaining a local sparse Merkle tree of pinned documents
// and per-peer reconciliation state machines.
type Channel struct {
	base     string
	identity *PeerIdentity
	net      contentnet.Network
	cfg      Config
	log      *logging.Logger
	metrics  *metrics.Metrics

	tree *SparseMerkleTree

	postMu sync.Mutex // serializes Post calls on this channel

	mu    sync.Mutex
	peers map[string]*peerRecord
	seen  map[string]bool // dedup key: sender|uuid

	onNewDocument func(cid []byte)

	manifests map[string][]byte   // manifest digest (hex) -> listing; entries are never expired
	cidByKey  map[[32]byte][]byte // tree key -> original CID bytes, for manifest listings
}

// NewChannel constructs a Channel for base, which must be at most 120
// bytes (§6.3).
func NewChannel(base string, identity *PeerIdentity, net contentnet.Network, cfg Config, log *logging.Logger, m *metrics.Metrics) (*Channel, error) {
	if len(base) > maxTopicBase {
		return nil, fmt.Errorf("channel base exceeds %d bytes", maxTopicBase)
	}
	return &Channel{
		base:      base,
		identity:  identity,
		net:       net,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		tree:      NewSparseMerkleTree(),
		peers:     make(map[string]*peerRecord),
		seen:      make(map[string]bool),
		manifests: make(map[string][]byte),
		cidByKey:  make(map[[32]byte][]byte),
	}, nil
}

// OnNewDocument registers the callback invoked when a document learned
// from a peer (announcement or reconciliation) is fetched, pinned and
// admitted locally. Documents added through Post do not trigger it.
func (c *Channel) OnNewDocument(fn func(cid []byte)) { c.onNewDocument = fn }

func (c *Channel) topic(suffix string) string { return c.base + "." + suffix }

// Digest returns the current local set digest.
func (c *Channel) Digest() [32]byte { return c.tree.Root() }

// Count returns the current local set size.
func (c *Channel) Count() int { return c.tree.Count() }

// Subscribe starts listening on all three topics for this channel.
func (c *Channel) Subscribe(ctx context.Context) error {
	if err := c.net.Subscribe(ctx, c.topic("new"), c.handleNew); err != nil {
		return err
	}
	if err := c.net.Subscribe(ctx, c.topic("syn"), func(m contentnet.Message) { c.handleSyn(ctx, m) }); err != nil {
		return err
	}
	if err := c.net.Subscribe(ctx, c.topic("dif"), c.handleDif); err != nil {
		return err
	}
	return nil
}

// Post publishes doc: computes its CID, announces to the content
// network and requires at least one distinct provider before
// publishing, pins locally, inserts into the tree, then announces a
// `.new` (§4.7 post semantics).
func (c *Channel) Post(ctx context.Context, cid []byte, doc []byte) error {
	c.postMu.Lock()
	defer c.postMu.Unlock()

	if err := c.net.AnnounceProvider(ctx, cid); err != nil {
		return herrors.FetchFailed(fmt.Sprintf("%x", cid), err)
	}

	var providers []string
	for attempt := 0; attempt < 5; attempt++ {
		var err error
		providers, err = c.net.Providers(ctx, cid)
		if err != nil {
			return herrors.FetchFailed(fmt.Sprintf("%x", cid), err)
		}
		if hasDistinctProvider(providers, c.identity.ID()) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	if !hasDistinctProvider(providers, c.identity.ID()) {
		return herrors.FetchFailed(fmt.Sprintf("%x", cid), fmt.Errorf("no distinct provider found within retry budget"))
	}

	if err := c.net.Pin(ctx, cid, doc); err != nil {
		return herrors.FetchFailed(fmt.Sprintf("%x", cid), err)
	}

	key := KeyForCID(cid)
	c.tree.Insert(key)
	c.mu.Lock()
	c.cidByKey[key] = append([]byte(nil), cid...)
	c.mu.Unlock()

	return c.announceNew(ctx, [][]byte{cid})
}

func hasDistinctProvider(providers []string, self string) bool {
	for _, p := range providers {
		if p != self {
			return true
		}
	}
	return false
}

func (c *Channel) announceNew(ctx context.Context, cids [][]byte) error {
	payload := &Payload{
		Version:         protocolVersion,
		ID:              newMessageID(),
		Sender:          c.identity.ID(),
		TimestampMillis: time.Now().UnixMilli(),
		SetDigest:       c.tree.Root(),
		Count:           c.tree.Count(),
		Kind:            "new",
		Documents:       cids,
	}

	raw, _ := json.Marshal(payload)
	if len(raw) > c.cfg.MaxInlineBytes {
		listing, _ := json.Marshal(cids)
		manifestID := sha256.Sum256(listing)
		c.mu.Lock()
		c.manifests[hex.EncodeToString(manifestID[:])] = listing
		c.mu.Unlock()
		payload.Documents = nil
		payload.ManifestID = manifestID[:]
		payload.ManifestTTLMillis = c.cfg.ManifestTTL.Milliseconds()
	}

	env, err := encodeEnvelope(c.identity, payload)
	if err != nil {
		return err
	}
	wire, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.net.Publish(ctx, c.topic("new"), wire)
}

// Get returns the document contents for cid as fetched from the content
// network.
func (c *Channel) Get(ctx context.Context, cid []byte) ([]byte, error) {
	data, err := c.net.Fetch(ctx, cid)
	if err != nil {
		return nil, herrors.FetchFailed(fmt.Sprintf("%x", cid), err)
	}
	return data, nil
}

func (c *Channel) dedup(sender string, id [16]byte) bool {
	key := sender + "|" + fmt.Sprintf("%x", id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[key] {
		return true
	}
	c.seen[key] = true
	return false
}

func (c *Channel) peerFor(sender string) *peerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.peers[sender]
	if !ok {
		rec = &peerRecord{state: Stable}
		c.peers[sender] = rec
	}
	return rec
}

func (c *Channel) handleNew(msg contentnet.Message) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return
	}
	p, err := decodeEnvelope(c.topic("new"), &env, nil)
	if err != nil {
		c.log.WithError(err).Warn("dropping invalid .new message")
		return
	}
	if c.dedup(p.Sender, p.ID) {
		return
	}

	for _, cid := range p.Documents {
		key := KeyForCID(cid)
		if !c.tree.Contains(key) {
			c.pinAndAdmit(context.Background(), cid)
		}
	}

	c.reconcileAgainst(p.Sender, p.SetDigest, p.Count)
}

// pinAndAdmit fetches and pins a document learned via announcement or
// reconciliation, inserting it into the local tree on success. A failed
// fetch or pin is logged and the document is not admitted; it is not
// queued for retry.
func (c *Channel) pinAndAdmit(ctx context.Context, cid []byte) {
	data, err := c.net.Fetch(ctx, cid)
	if err != nil {
		c.log.WithError(err).Warn("fetch failed, document not admitted")
		return
	}
	if err := c.net.Pin(ctx, cid, data); err != nil {
		c.log.WithError(err).Warn("pin failed")
		return
	}
	key := KeyForCID(cid)
	c.tree.Insert(key)
	c.mu.Lock()
	c.cidByKey[key] = append([]byte(nil), cid...)
	c.mu.Unlock()
	if c.onNewDocument != nil {
		c.onNewDocument(cid)
	}
}

// reconcileAgainst advances the peer state machine for sender given an
// observed remote digest/count (§3.4, §4.7 reconciliation state machine).
func (c *Channel) reconcileAgainst(sender string, remoteDigest [32]byte, remoteCount int) {
	rec := c.peerFor(sender)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	local := c.tree.Root()
	if local == remoteDigest {
		rec.state = Stable
		if rec.cancelTimer != nil {
			rec.cancelTimer()
			rec.cancelTimer = nil
		}
		if c.metrics != nil {
			c.metrics.DocSyncPeerState.WithLabelValues(c.base).Set(0)
		}
		return
	}

	rec.lastDigest = remoteDigest
	rec.lastCount = remoteCount

	if rec.state == Reconciling {
		return // already working on it
	}

	rec.state = Diverged
	rec.divergedAt = time.Now()
	rec.round = 0
	if c.metrics != nil {
		c.metrics.DocSyncPeerState.WithLabelValues(c.base).Set(1)
	}

	backoff := randomDuration(c.cfg.BackoffMin, c.cfg.BackoffMax)
	ctx, cancel := context.WithCancel(context.Background())
	rec.cancelTimer = cancel

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		rec.mu.Lock()
		if rec.state != Diverged {
			rec.mu.Unlock()
			return
		}
		if c.tree.Root() == rec.lastDigest {
			rec.state = Stable
			rec.mu.Unlock()
			if c.metrics != nil {
				c.metrics.DocSyncPeerState.WithLabelValues(c.base).Set(0)
			}
			return
		}
		rec.state = Reconciling
		rec.mu.Unlock()
		if c.metrics != nil {
			c.metrics.DocSyncPeerState.WithLabelValues(c.base).Set(2)
		}
		c.startReconciliation(sender, rec)
	}()
}

func (c *Channel) startReconciliation(sender string, rec *peerRecord) {
	ctx := context.Background()

	localCount := c.tree.Count()
	rec.mu.Lock()
	remoteCount := rec.lastCount
	round := rec.round
	rec.mu.Unlock()

	size := Size(localCount, remoteCount, round)
	idArr := newMessageID()
	seeds := SeedsFromUUID(idArr)

	sketch := NewSketch(size, seeds)
	c.mu.Lock()
	for _, key := range c.tree.Keys() {
		cid, ok := c.cidByKey[key]
		if !ok {
			continue
		}
		sketchKey, checksum := KeyAndChecksum(cid)
		sketch.Insert(sketchKey, checksum)
	}
	c.mu.Unlock()

	payload := &Payload{
		Version:         protocolVersion,
		ID:              idArr,
		Sender:          c.identity.ID(),
		TimestampMillis: time.Now().UnixMilli(),
		SetDigest:       c.tree.Root(),
		Count:           localCount,
		Kind:            "syn",
		SketchSize:      size,
		SketchCells:     sketchCellsToWire(sketch),
		Round:           round,
	}

	env, err := encodeEnvelope(c.identity, payload)
	if err != nil {
		c.log.WithError(err).Warn("failed to encode .syn")
		return
	}
	wire, _ := json.Marshal(env)
	if err := c.net.Publish(ctx, c.topic("syn"), wire); err != nil {
		c.log.WithError(err).Warn("failed to publish .syn")
	}
	if c.metrics != nil {
		c.metrics.DocSyncRounds.WithLabelValues(c.base).Observe(float64(round))
	}
}

// sketchCellsToWire flattens a sketch's cells into a wire-friendly slice
// of (count, idSum, checkSum) triples packed as uint64 values.
func sketchCellsToWire(s *Sketch) []uint64 {
	out := make([]uint64, 0, len(s.cells)*3)
	for _, c := range s.cells {
		out = append(out, uint64(c.count), c.idSum, uint64(c.checkSum))
	}
	return out
}

func sketchFromWire(size int, seeds [hashCount]uint64, wire []uint64) *Sketch {
	s := NewSketch(size, seeds)
	for i := 0; i*3+2 < len(wire); i++ {
		s.cells[i] = cell{
			count:    int64(wire[i*3]),
			idSum:    wire[i*3+1],
			checkSum: uint32(wire[i*3+2]),
		}
	}
	return s
}

// handleSyn responds to a reconciliation solicitation: after a
// randomized responder jitter, peel the requester's sketch against our
// own and reply on .dif with inline missing documents or a manifest
// reference.
func (c *Channel) handleSyn(ctx context.Context, msg contentnet.Message) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return
	}
	p, err := decodeEnvelope(c.topic("syn"), &env, nil)
	if err != nil {
		c.log.WithError(err).Warn("dropping invalid .syn message")
		return
	}
	if c.dedup(p.Sender, p.ID) {
		return
	}

	jitter := randomDuration(c.cfg.JitterMin, c.cfg.JitterMax)
	select {
	case <-ctx.Done():
		return
	case <-time.After(jitter):
	}

	seeds := SeedsFromUUID(p.ID)
	requester := sketchFromWire(p.SketchSize, seeds, p.SketchCells)

	local := NewSketch(p.SketchSize, seeds)
	c.mu.Lock()
	for _, key := range c.tree.Keys() {
		cid, ok := c.cidByKey[key]
		if !ok {
			continue
		}
		sketchKey, checksum := KeyAndChecksum(cid)
		local.Insert(sketchKey, checksum)
	}
	c.mu.Unlock()

	diff, err := local.Subtract(requester)
	if err != nil {
		c.log.WithError(err).Warn("sketch size mismatch, escalating to manifest")
		c.sendManifestDif(ctx, p)
		return
	}

	entries, complete := diff.Peel()
	if !complete && p.Round < c.cfg.MaxRounds {
		c.sendEscalatedDif(ctx, p, entries)
		return
	}
	if !complete {
		c.sendManifestDif(ctx, p)
		return
	}

	c.sendInlineDif(ctx, p, entries)
}

func (c *Channel) sendInlineDif(ctx context.Context, req *Payload, entries []Entry) {
	c.mu.Lock()
	cidBySketchKey := make(map[uint64][]byte, len(c.cidByKey))
	for _, cid := range c.cidByKey {
		sketchKey, _ := KeyAndChecksum(cid)
		cidBySketchKey[sketchKey] = cid
	}
	c.mu.Unlock()

	missing := make([][]byte, 0, len(entries))
	for _, e := range entries {
		if e.Sign > 0 {
			if cid, ok := cidBySketchKey[e.Key]; ok {
				missing = append(missing, cid)
			}
		}
	}

	payload := &Payload{
		Version:         protocolVersion,
		ID:              newMessageID(),
		Sender:          c.identity.ID(),
		TimestampMillis: time.Now().UnixMilli(),
		SetDigest:       c.tree.Root(),
		Count:           c.tree.Count(),
		Kind:            "dif",
		Documents:       missing,
		Round:           req.Round,
	}
	c.publishDif(ctx, payload)
}

func (c *Channel) sendEscalatedDif(ctx context.Context, req *Payload, partial []Entry) {
	payload := &Payload{
		Version:         protocolVersion,
		ID:              newMessageID(),
		Sender:          c.identity.ID(),
		TimestampMillis: time.Now().UnixMilli(),
		SetDigest:       c.tree.Root(),
		Count:           c.tree.Count(),
		Kind:            "dif",
		Round:           req.Round + 1,
	}
	c.publishDif(ctx, payload)
}

func (c *Channel) sendManifestDif(ctx context.Context, req *Payload) {
	c.mu.Lock()
	listing := make([][]byte, 0, len(c.cidByKey))
	for _, cid := range c.cidByKey {
		listing = append(listing, cid)
	}
	c.mu.Unlock()

	raw, _ := json.Marshal(listing)
	manifestID := sha256.Sum256(raw)
	c.mu.Lock()
	c.manifests[hex.EncodeToString(manifestID[:])] = raw
	c.mu.Unlock()

	payload := &Payload{
		Version:           protocolVersion,
		ID:                newMessageID(),
		Sender:            c.identity.ID(),
		TimestampMillis:   time.Now().UnixMilli(),
		SetDigest:         c.tree.Root(),
		Count:             c.tree.Count(),
		Kind:              "dif",
		ManifestID:        manifestID[:],
		ManifestTTLMillis: c.cfg.ManifestTTL.Milliseconds(),
		Round:             req.Round,
	}
	c.publishDif(ctx, payload)
	if c.metrics != nil {
		c.metrics.DocSyncFallbacks.WithLabelValues(c.base).Inc()
	}
}

func (c *Channel) publishDif(ctx context.Context, payload *Payload) {
	env, err := encodeEnvelope(c.identity, payload)
	if err != nil {
		c.log.WithError(err).Warn("failed to encode .dif")
		return
	}
	wire, _ := json.Marshal(env)
	if err := c.net.Publish(ctx, c.topic("dif"), wire); err != nil {
		c.log.WithError(err).Warn("failed to publish .dif")
	}
}

func (c *Channel) handleDif(msg contentnet.Message) {
	var env Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return
	}
	p, err := decodeEnvelope(c.topic("dif"), &env, nil)
	if err != nil {
		c.log.WithError(err).Warn("dropping invalid .dif message")
		return
	}
	if c.dedup(p.Sender, p.ID) {
		return
	}

	ctx := context.Background()

	if p.ManifestID != nil {
		c.mu.Lock()
		listing, ok := c.manifests[fmt.Sprintf("%x", p.ManifestID)]
		c.mu.Unlock()
		if ok {
			var cids [][]byte
			if json.Unmarshal(listing, &cids) == nil {
				for _, cid := range cids {
					c.pinAndAdmit(ctx, cid)
				}
			}
		}
		c.reconcileAgainst(p.Sender, p.SetDigest, p.Count)
		return
	}

	for _, cid := range p.Documents {
		c.pinAndAdmit(ctx, cid)
	}

	if len(p.Documents) == 0 && p.Round > 0 && c.tree.Root() != p.SetDigest {
		rec := c.peerFor(p.Sender)
		rec.mu.Lock()
		rec.state = Reconciling
		rec.round = p.Round
		rec.lastDigest = p.SetDigest
		rec.lastCount = p.Count
		rec.mu.Unlock()
		c.startReconciliation(p.Sender, rec)
		return
	}

	c.reconcileAgainst(p.Sender, p.SetDigest, p.Count)
}

func keyAsBytes(key uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, key)
	return buf
}

func newMessageID() [16]byte {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	var out [16]byte
	copy(out[:], id[:])
	return out
}

func randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := max - min
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return min + time.Duration(mrand.Int63n(int64(span)))
	}
	return min + time.Duration(n.Int64())
}
