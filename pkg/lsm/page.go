package lsm

import (
	"encoding/binary"
)

// Page layout:
//   [0,2)     header, little endian: bits 0..14 bytes used (header included),
//             bit 15 set on the last page of a file
//   [2,used)  codec-encoded records in ascending key order
//   [used,n)  unused tail
const (
	HeaderSize      = 2
	MaxPageSize     = 1<<15 - 1
	MinPageSize     = 16
	DefaultPageSize = 8 * 1024

	usedMask    = 0x7FFF
	lastPageBit = 0x8000
)

// PutPageHeader writes the header of page
func PutPageHeader(page []byte, used int, last bool) {
	v := uint16(used) & usedMask
	if last {
		v |= lastPageBit
	}
	binary.LittleEndian.PutUint16(page, v)
}

// ReadPageHeader decodes the header of page
func ReadPageHeader(page []byte) (used int, last bool) {
	v := binary.LittleEndian.Uint16(page)
	return int(v & usedMask), v&lastPageBit != 0
}
