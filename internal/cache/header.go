package cache

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ticpu/fuse-img2heic/internal/imgparams"
)

// Bit-exact on-disk cache file layout:
//
//	offset  length  field
//	0       4       magic      'F','H','I','C'
//	4       1       version    0x01
//	5       1       encrypted  0 or 1
//	6       1       quality
//	7       1       speed
//	8       2       chroma     big-endian uint16
//	10      16      reserved   zero on write, ignored on read
//	26      32      checksum   SHA-256 of plaintext payload
//	58      12      nonce      AES-256-GCM nonce when encrypted, else zero
//	70      *       payload
const (
	headerSize      = 70
	magicOffset     = 0
	versionOffset   = 4
	encryptedOffset = 5
	qualityOffset   = 6
	speedOffset     = 7
	chromaOffset    = 8
	reservedOffset  = 10
	reservedSize    = 16
	checksumOffset  = 26
	checksumSize    = 32
	nonceOffset     = 58
	nonceSize       = 12

	currentVersion byte = 0x01
)

var magic = [4]byte{'F', 'H', 'I', 'C'}

// These are the recoverable cache fault kinds: any one of them causes the
// file to be deleted and the load to behave as a miss.
var (
	ErrShortFile        = errors.New("cache: file shorter than header")
	ErrBadMagic         = errors.New("cache: bad magic")
	ErrBadVersion       = errors.New("cache: unsupported version")
	ErrParamsMismatch   = errors.New("cache: stored encoder params do not match request")
	ErrChecksumMismatch = errors.New("cache: plaintext checksum mismatch")
	ErrDecryptionFailed = errors.New("cache: AEAD decryption failed")
)

// header is the parsed fixed-shape record preceding the payload.
type header struct {
	Version   byte
	Encrypted bool
	Quality   byte
	Speed     byte
	Chroma    uint16
	Checksum  [checksumSize]byte
	Nonce     [nonceSize]byte
}

// matchesParams reports whether the stored scalars equal the requested
// EncoderParams. A cache entry built for different encode settings is
// treated as a miss rather than returned stale.
func (h header) matchesParams(p imgparams.EncoderParams) bool {
	return h.Quality == p.Quality && h.Speed == p.Speed && h.Chroma == uint16(p.Chroma)
}

// marshalHeader serializes h, leaving the reserved bytes zeroed.
func marshalHeader(h header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[magicOffset:], magic[:])
	buf[versionOffset] = h.Version
	if h.Encrypted {
		buf[encryptedOffset] = 1
	}
	buf[qualityOffset] = h.Quality
	buf[speedOffset] = h.Speed
	binary.BigEndian.PutUint16(buf[chromaOffset:], h.Chroma)
	// reserved bytes already zero from make()
	copy(buf[checksumOffset:checksumOffset+checksumSize], h.Checksum[:])
	copy(buf[nonceOffset:nonceOffset+nonceSize], h.Nonce[:])
	return buf
}

// unmarshalHeader parses the fixed header from the front of buf, validating
// magic and version. It does not validate encoder params or checksums;
// callers do that against the requested CacheContext.
func unmarshalHeader(buf []byte) (header, error) {
	var h header
	if len(buf) < headerSize {
		return h, fmt.Errorf("%w: got %d bytes", ErrShortFile, len(buf))
	}
	if string(buf[magicOffset:magicOffset+4]) != string(magic[:]) {
		return h, ErrBadMagic
	}
	h.Version = buf[versionOffset]
	if h.Version != currentVersion {
		return h, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	h.Encrypted = buf[encryptedOffset] != 0
	h.Quality = buf[qualityOffset]
	h.Speed = buf[speedOffset]
	h.Chroma = binary.BigEndian.Uint16(buf[chromaOffset:])
	copy(h.Checksum[:], buf[checksumOffset:checksumOffset+checksumSize])
	copy(h.Nonce[:], buf[nonceOffset:nonceOffset+nonceSize])
	return h, nil
}
