package loopback

import "github.com/fabtsuite/fabtsuite/internal/fabric"

// memoryRegion groups the segments registered by a single RegisterMR
// call; each segment is independently keyed and addressed from offset
// zero, matching the offset-based (never virtual-address) model spec
// §4.2 / GLOSSARY require.
type memoryRegion struct {
	domain   *Domain
	segments []*segment
}

func (m *memoryRegion) NumSegments() int { return len(m.segments) }

func (m *memoryRegion) Desc(i int) fabric.Desc { return m.segments[i] }

func (m *memoryRegion) Key(i int) uint64 { return m.segments[i].key }

func (m *memoryRegion) Offset(int) uint64 { return 0 }

func (m *memoryRegion) Close() error {
	for _, seg := range m.segments {
		m.domain.unregisterSegment(seg.key)
	}
	return nil
}
