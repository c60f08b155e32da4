// Package util holds small helpers shared by the timeline stores.
package util

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// ChecksumSize is the length of the trailer written by Seal
const ChecksumSize = 4

var (
	// ErrTruncated is returned for payloads shorter than the trailer
	ErrTruncated = errors.New("payload shorter than its checksum")
	// ErrChecksumMismatch is returned when the trailer does not match the data
	ErrChecksumMismatch = errors.New("payload checksum mismatch")
)

var crcTable = crc32.MakeTable(crc32.IEEE)

// Checksum returns the CRC32 (IEEE) of data
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// Seal returns data followed by its little endian checksum
func Seal(data []byte) []byte {
	out := make([]byte, 0, len(data)+ChecksumSize)
	out = append(out, data...)
	return binary.LittleEndian.AppendUint32(out, Checksum(data))
}

// Open verifies and strips the trailer written by Seal. The returned slice
// aliases sealed.
func Open(sealed []byte) ([]byte, error) {
	if len(sealed) < ChecksumSize {
		return nil, ErrTruncated
	}
	n := len(sealed) - ChecksumSize
	data := sealed[:n]
	if binary.LittleEndian.Uint32(sealed[n:]) != Checksum(data) {
		return nil, ErrChecksumMismatch
	}
	return data, nil
}
