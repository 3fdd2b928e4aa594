// Package pipecache validates and persists pipeline cache blobs.
//
// A blob starts with a header written by the driver:
//
//	offset  size  field
//	0       4     header length in bytes
//	4       4     header version
//	8       4     vendor ID
//	12      4     device ID
//	16      16    pipeline cache UUID
//
// Integers are little-endian. A blob is only reused by the device
// that produced it.
package pipecache

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// HeaderVersionOne is the only header version defined so far.
const HeaderVersionOne uint32 = 1

const headerSize = 16 + len(uuid.UUID{})

var ErrInvalid = errors.New("pipecache: invalid cache data")

type Header struct {
	Length   uint32
	Version  uint32
	VendorID uint32
	DeviceID uint32
	UUID     uuid.UUID
}

// Device identifies the physical device a cache must belong to.
type Device struct {
	VendorID uint32
	DeviceID uint32
	UUID     uuid.UUID
}

func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < headerSize {
		return h, errors.Wrapf(ErrInvalid, "%d bytes is shorter than a header", len(data))
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return h, errors.Mark(errors.Wrap(err, "pipecache: read header"), ErrInvalid)
	}
	if h.Length < uint32(headerSize) || int(h.Length) > len(data) {
		return h, errors.Wrapf(ErrInvalid, "bad header length %d", h.Length)
	}
	if h.Version != HeaderVersionOne {
		return h, errors.Wrapf(ErrInvalid, "unsupported header version %d", h.Version)
	}
	return h, nil
}

// Check reports why h cannot be used on dev, or nil if it can.
func (h Header) Check(dev Device) error {
	switch {
	case h.VendorID != dev.VendorID:
		return errors.Wrapf(ErrInvalid, "vendor ID 0x%x, device has 0x%x", h.VendorID, dev.VendorID)
	case h.DeviceID != dev.DeviceID:
		return errors.Wrapf(ErrInvalid, "device ID 0x%x, device has 0x%x", h.DeviceID, dev.DeviceID)
	case h.UUID != dev.UUID:
		return errors.Wrapf(ErrInvalid, "UUID %s, device has %s", h.UUID, dev.UUID)
	}
	return nil
}

// Load reads the cache at path and returns it if it belongs to dev.
// A missing file yields no data and no error. An unusable file is
// removed so the next Store starts clean, and yields no data along
// with the reason it was rejected.
func Load(path string, dev Device) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "pipecache: read")
	}

	h, err := ParseHeader(data)
	if err == nil {
		err = h.Check(dev)
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return data, nil
}

// Store writes data to path. Empty data is not written.
func Store(path string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := ParseHeader(data); err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(path, data, 0o666), "pipecache: write")
}
