// Invertible Bloom lookup table ("sketch") for set reconciliation
// (§4.7): sized by peer count-delta, k=3 hash functions, seeded
// deterministically from the requesting exchange's uuid so both peers
// derive identical seeds without exchanging them.
package docsync

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const hashCount = 3

// cell is one invertible-bloom-lookup-table slot.
type cell struct {
	count    int64
	idSum    uint64 // XOR of key space values (low 64 bits of SHA-256(CIDv1))
	checkSum uint32 // XOR of checksums (low 32 bits of SHA-256(0x03||CIDv1))
}

// Sketch is an IBLT over a set of CIDs, keyed by the low 64 bits of
// SHA-256(CIDv1 bytes) with a low-32-bit checksum for decode validation.
type Sketch struct {
	size  int
	seeds [hashCount]uint64
	cells []cell
}

// KeyAndChecksum derives a CID's sketch key and checksum from its
// canonical CIDv1 byte representation.
func KeyAndChecksum(cidBytes []byte) (uint64, uint32) {
	keyDigest := sha256.Sum256(cidBytes)
	key := binary.BigEndian.Uint64(keyDigest[24:32])

	buf := make([]byte, 0, len(cidBytes)+1)
	buf = append(buf, 0x03)
	buf = append(buf, cidBytes...)
	sumDigest := sha256.Sum256(buf)
	checksum := binary.BigEndian.Uint32(sumDigest[28:32])

	return key, checksum
}

// Size computes the table size for an exchange given the two peers'
// believed set counts and the escalation round, per §4.7: m = max(64, 3
// * max(16, |delta| + 8)), scaled 1.6x per additional round.
func Size(countLocal, countRemote int, round int) int {
	delta := countLocal - countRemote
	if delta < 0 {
		delta = -delta
	}
	base := 3 * maxInt(16, delta+8)
	m := maxInt(64, base)
	for i := 0; i < round; i++ {
		m = int(float64(m) * 1.6)
	}
	return m
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// SeedsFromUUID derives the hashCount deterministic hash seeds from the
// exchange's 128-bit uuid, so both requester and responder compute
// identical slot indices without exchanging seeds.
func SeedsFromUUID(uuid [16]byte) [hashCount]uint64 {
	var seeds [hashCount]uint64
	for i := 0; i < hashCount; i++ {
		buf := make([]byte, 0, 17)
		buf = append(buf, byte(i))
		buf = append(buf, uuid[:]...)
		digest := sha256.Sum256(buf)
		seeds[i] = binary.BigEndian.Uint64(digest[:8])
	}
	return seeds
}

// NewSketch builds an empty sketch of the given size with the given
// deterministic seeds.
func NewSketch(size int, seeds [hashCount]uint64) *Sketch {
	if size < 1 {
		size = 1
	}
	return &Sketch{size: size, seeds: seeds, cells: make([]cell, size)}
}

func (s *Sketch) slot(key uint64, seed uint64) int {
	h := sha256.Sum256(binaryKey(key ^ seed))
	idx := binary.BigEndian.Uint64(h[:8]) % uint64(s.size)
	return int(idx)
}

func binaryKey(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

// Insert adds one (key, checksum) pair into the sketch with sign +1.
func (s *Sketch) Insert(key uint64, checksum uint32) {
	s.apply(key, checksum, 1)
}

// Remove subtracts one (key, checksum) pair, sign -1, used to build the
// symmetric difference between two sketches via Subtract.
func (s *Sketch) Remove(key uint64, checksum uint32) {
	s.apply(key, checksum, -1)
}

func (s *Sketch) apply(key uint64, checksum uint32, sign int64) {
	for _, seed := range s.seeds {
		idx := s.slot(key, seed)
		c := &s.cells[idx]
		c.count += sign
		c.idSum ^= key
		c.checkSum ^= checksum
	}
}

// Subtract returns a new sketch equal to s minus other, cell-wise,
// requires equal size. The result peels to reveal the symmetric
// difference between the two sets.
func (s *Sketch) Subtract(other *Sketch) (*Sketch, error) {
	if s.size != other.size {
		return nil, fmt.Errorf("sketch size mismatch: %d != %d", s.size, other.size)
	}
	out := &Sketch{size: s.size, seeds: s.seeds, cells: make([]cell, s.size)}
	for i := range out.cells {
		out.cells[i] = cell{
			count:    s.cells[i].count - other.cells[i].count,
			idSum:    s.cells[i].idSum ^ other.cells[i].idSum,
			checkSum: s.cells[i].checkSum ^ other.cells[i].checkSum,
		}
	}
	return out, nil
}

// Entry is one peeled (key, checksum, sign) from a difference sketch.
// Sign +1 means present only in the minuend's set (local-only, i.e.
// needs no fetch); sign -1 means present only in the subtrahend's set
// (remote-only, i.e. needs fetch+pin).
type Entry struct {
	Key      uint64
	Checksum uint32
	Sign     int64
}

// Peel attempts to fully decode a difference sketch's symmetric
// difference by repeatedly finding pure cells (count==+-1, or count==0
// with the idSum zeroed out is not actionable). Returns the decoded
// entries and whether decoding fully emptied the table.
func (s *Sketch) Peel() ([]Entry, bool) {
	cells := make([]cell, len(s.cells))
	copy(cells, s.cells)

	var entries []Entry
	progressed := true
	for progressed {
		progressed = false
		for i := range cells {
			c := &cells[i]
			if c.count != 1 && c.count != -1 {
				continue
			}
			key := c.idSum
			checksum := c.checkSum
			if !verifyCellChecksum(key, checksum) {
				continue
			}
			sign := c.count
			entries = append(entries, Entry{Key: key, Checksum: checksum, Sign: sign})

			for _, seed := range s.seeds {
				idx := s.slotForCells(key, seed)
				target := &cells[idx]
				target.count -= sign
				target.idSum ^= key
				target.checkSum ^= checksum
			}
			progressed = true
		}
	}

	empty := true
	for _, c := range cells {
		if c.count != 0 || c.idSum != 0 || c.checkSum != 0 {
			empty = false
			break
		}
	}
	return entries, empty
}

func (s *Sketch) slotForCells(key, seed uint64) int {
	return s.slot(key, seed)
}

// verifyCellChecksum is a best-effort sanity check: a real peel also
// recomputes the checksum from the CID bytes once fetched. Here we can
// only confirm internal consistency is plausible (checksum is non-zero
// for any non-trivial key), full validation happens when the CID is
// resolved and re-hashed.
func verifyCellChecksum(key uint64, checksum uint32) bool {
	return key != 0 || checksum != 0
}
