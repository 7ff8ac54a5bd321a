package sensor

import (
	"bytes"

	"github.com/banshee-data/lidarsweep/internal/protocol"
)

// ScanStream is a resumable decoder over the scan byte stream. Bytes that do
// not yet form a complete record or response descriptor are kept for the
// next Feed; anything else DecodeScanAt rejects is discarded with the rest of
// the buffer.
type ScanStream struct {
	buf       []byte
	out       []protocol.ScanSample
	discarded int64
}

// NewScanStream returns an empty stream.
func NewScanStream() *ScanStream {
	return &ScanStream{buf: make([]byte, 0, 4096)}
}

// Feed appends chunk to the pending bytes and decodes every complete record,
// stamping each sample with ts. The returned slice is reused by the next call.
func (s *ScanStream) Feed(chunk []byte, ts int64) []protocol.ScanSample {
	s.out = s.out[:0]
	s.buf = append(s.buf, chunk...)

	rest := s.buf
	for {
		trimmed := rest
		for bytes.HasPrefix(trimmed, protocol.ScanDescriptor[:]) {
			trimmed = trimmed[protocol.DescriptorSize:]
		}
		// A descriptor split across reads is never a valid record; wait for
		// the rest of it instead of discarding.
		if len(trimmed) < protocol.DescriptorSize && len(trimmed) > 0 &&
			bytes.HasPrefix(protocol.ScanDescriptor[:], trimmed) {
			break
		}

		sample, next := protocol.DecodeScanAt(rest, ts)
		if sample == nil {
			s.discarded += int64(len(trimmed) - len(next))
			rest = next
			break
		}
		s.out = append(s.out, *sample)
		rest = next
	}

	n := copy(s.buf, rest)
	s.buf = s.buf[:n]
	return s.out
}

// Pending returns the number of buffered bytes awaiting a complete record.
func (s *ScanStream) Pending() int { return len(s.buf) }

// Discarded returns the total number of bytes dropped while resynchronising.
func (s *ScanStream) Discarded() int64 { return s.discarded }

// Reset drops any buffered bytes, e.g. after the scan is restarted.
func (s *ScanStream) Reset() {
	s.buf = s.buf[:0]
}
