package packed

import "encoding/binary"

// Alignment is the granularity of slot sizes.
const Alignment = 8

// AlignUp rounds n up to a multiple of Alignment.
func AlignUp(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

// GetU16 reads a little-endian uint16 at b[0:2].
func GetU16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }

// PutU16 writes a little-endian uint16 to b[0:2].
func PutU16(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }

// GetU32 reads a little-endian uint32 at b[0:4].
func GetU32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

// PutU32 writes a little-endian uint32 to b[0:4].
func PutU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

// GetI64 reads a little-endian int64 at b[0:8].
func GetI64(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) }

// PutI64 writes a little-endian int64 to b[0:8].
func PutI64(b []byte, v int64) { binary.LittleEndian.PutUint64(b, uint64(v)) }

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
