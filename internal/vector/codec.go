package vector

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"sort"
)

// On-disk layout, little-endian:
//
//	magic "TSKIDX1\n" | version u16 | dim u32 | modelIDLen u32 | modelID
//	| count u32 | per entry: id u64, textLen u32, text, metaCount u32,
//	  (keyLen u32, key, valLen u32, val)*, dim x f32
//	| crc32 (IEEE) of everything before it
const (
	indexMagic          = "TSKIDX1\n"
	indexVersion uint16 = 1
)

// IndexFileName is the file a LocalIndex persists to inside its directory.
const IndexFileName = "index.tsk"

type indexSnapshot struct {
	dim     int
	modelID string
	entries []Entry
}

func encodeIndex(s *indexSnapshot) []byte {
	var buf bytes.Buffer
	buf.WriteString(indexMagic)
	writeU16(&buf, indexVersion)
	writeU32(&buf, uint32(s.dim))
	writeString(&buf, s.modelID)
	writeU32(&buf, uint32(len(s.entries)))
	for _, e := range s.entries {
		writeU64(&buf, e.ID)
		writeString(&buf, e.Text)
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		writeU32(&buf, uint32(len(keys)))
		for _, k := range keys {
			writeString(&buf, k)
			writeString(&buf, e.Metadata[k])
		}
		buf.Write(float32SliceToBytes(e.Embedding))
	}
	writeU32(&buf, crc32.ChecksumIEEE(buf.Bytes()))
	return buf.Bytes()
}

func decodeIndex(data []byte) (*indexSnapshot, error) {
	if len(data) < len(indexMagic)+4 {
		return nil, fmt.Errorf("%w: file too short (%d bytes)", ErrCorruptIndex, len(data))
	}
	body, tail := data[:len(data)-4], data[len(data)-4:]
	if got, want := crc32.ChecksumIEEE(body), binary.LittleEndian.Uint32(tail); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptIndex)
	}
	if string(body[:len(indexMagic)]) != indexMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptIndex)
	}

	r := &reader{b: body, off: len(indexMagic)}
	if v := r.u16(); r.err == nil && v != indexVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, v)
	}
	s := &indexSnapshot{dim: int(r.u32()), modelID: r.str()}
	count := r.u32()
	if r.err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptIndex, r.err)
	}
	// Each entry needs at least its fixed-size fields.
	if minSize := uint64(count) * uint64(8+4+4+4*s.dim); minSize > uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: %d entries do not fit in %d bytes", ErrCorruptIndex, count, r.remaining())
	}
	s.entries = make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		e := Entry{ID: r.u64(), Text: r.str()}
		n := r.u32()
		if r.err == nil && n > 0 {
			e.Metadata = make(map[string]string, min(int(n), 64))
			for j := uint32(0); j < n && r.err == nil; j++ {
				k := r.str()
				e.Metadata[k] = r.str()
			}
		} else {
			e.Metadata = map[string]string{}
		}
		if raw := r.bytes(4 * s.dim); r.err == nil {
			e.Embedding = bytesToFloat32Slice(raw)
		}
		if r.err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrCorruptIndex, i, r.err)
		}
		if e.ID != uint64(i) {
			return nil, fmt.Errorf("%w: entry %d has id %d", ErrCorruptIndex, i, e.ID)
		}
		s.entries = append(s.entries, e)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptIndex, r.remaining())
	}
	return s, nil
}

type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) remaining() int { return len(r.b) - r.off }

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.remaining() {
		r.err = fmt.Errorf("truncated at offset %d: need %d bytes, have %d", r.off, n, r.remaining())
		return nil
	}
	out := r.b[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u16() uint16 {
	if b := r.bytes(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.bytes(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.bytes(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) str() string {
	n := r.u32()
	if r.err != nil {
		return ""
	}
	return string(r.bytes(int(n)))
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
