package replica

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/automerge/automerge-go"
)

// ErrMalformedDelta is returned when delta bytes cannot be decoded.
var ErrMalformedDelta = errors.New("malformed delta")

// Every automerge chunk (document or change) starts with these bytes.
var chunkMagic = []byte{0x85, 0x6f, 0x4a, 0x83}

// minChunkLen is magic + checksum + chunk type.
const minChunkLen = 9

// A delta is a sequence of frames, each a uvarint length followed by one
// encoded automerge chunk. An empty delta carries no changes.

// EncodeDelta frames chunks into a single delta.
func EncodeDelta(chunks ...[]byte) []byte {
	var buf bytes.Buffer
	var lenBuf [binary.MaxVarintLen64]byte
	for _, chunk := range chunks {
		n := binary.PutUvarint(lenBuf[:], uint64(len(chunk)))
		buf.Write(lenBuf[:n])
		buf.Write(chunk)
	}
	return buf.Bytes()
}

// DecodeDelta splits a delta back into its chunks and checks each one looks
// like an automerge chunk.
func DecodeDelta(delta []byte) ([][]byte, error) {
	var chunks [][]byte
	for rest := delta; len(rest) > 0; {
		size, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, fmt.Errorf("%w: bad frame length", ErrMalformedDelta)
		}
		rest = rest[n:]
		if size > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: frame of %d bytes exceeds remaining %d", ErrMalformedDelta, size, len(rest))
		}
		chunk := rest[:size]
		if len(chunk) < minChunkLen || !bytes.HasPrefix(chunk, chunkMagic) {
			return nil, fmt.Errorf("%w: frame is not an automerge chunk", ErrMalformedDelta)
		}
		chunks = append(chunks, chunk)
		rest = rest[size:]
	}
	return chunks, nil
}

// ChangesDelta encodes changes as a delta.
func ChangesDelta(changes []*automerge.Change) []byte {
	chunks := make([][]byte, 0, len(changes))
	for _, ch := range changes {
		chunks = append(chunks, ch.Save())
	}
	return EncodeDelta(chunks...)
}

// ApplyDelta merges every chunk of delta into doc.
func ApplyDelta(doc *automerge.Doc, delta []byte) error {
	chunks, err := DecodeDelta(delta)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := doc.LoadIncremental(chunk); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedDelta, err)
		}
	}
	return nil
}

// StateVector encodes doc heads as hex change hashes.
func StateVector(doc *automerge.Doc) []string {
	heads := doc.Heads()
	out := make([]string, 0, len(heads))
	for _, h := range heads {
		out = append(out, h.String())
	}
	return out
}

func parseStateVector(sv []string) ([]automerge.ChangeHash, error) {
	hashes := make([]automerge.ChangeHash, 0, len(sv))
	for _, s := range sv {
		h, err := automerge.NewChangeHash(s)
		if err != nil {
			return nil, fmt.Errorf("invalid change hash %q: %w", s, err)
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

func sameHeads(a, b []automerge.ChangeHash) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[automerge.ChangeHash]struct{}, len(a))
	for _, h := range a {
		seen[h] = struct{}{}
	}
	for _, h := range b {
		if _, ok := seen[h]; !ok {
			return false
		}
	}
	return true
}

// TextField reads a text field from doc; absent or non-text fields read as "".
func TextField(doc *automerge.Doc, field string) string {
	s, err := doc.Path(field).Text().Get()
	if err != nil {
		return ""
	}
	return s
}
