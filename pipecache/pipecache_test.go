package pipecache

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDevice = Device{
	VendorID: 0x10de,
	DeviceID: 0x2484,
	UUID:     uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"),
}

func blob(t *testing.T, h Header, payload []byte) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, h))
	buf.Write(payload)
	return buf.Bytes()
}

func validHeader() Header {
	return Header{
		Length:   uint32(headerSize),
		Version:  HeaderVersionOne,
		VendorID: testDevice.VendorID,
		DeviceID: testDevice.DeviceID,
		UUID:     testDevice.UUID,
	}
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader(blob(t, validHeader(), []byte("pipelines")))
	require.NoError(t, err)
	assert.Equal(t, validHeader(), h)
	assert.NoError(t, h.Check(testDevice))
}

func TestParseHeaderRejects(t *testing.T) {
	short := validHeader()
	short.Length = 4
	version := validHeader()
	version.Version = 2
	long := validHeader()
	long.Length = 1000

	for name, data := range map[string][]byte{
		"truncated": blob(t, validHeader(), nil)[:10],
		"length":    blob(t, short, nil),
		"past end":  blob(t, long, nil),
		"version":   blob(t, version, nil),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseHeader(data)
			assert.True(t, errors.Is(err, ErrInvalid), "got %v", err)
		})
	}
}

func TestCheckMismatch(t *testing.T) {
	other := testDevice
	other.UUID = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")
	assert.True(t, errors.Is(validHeader().Check(other), ErrInvalid))

	other = testDevice
	other.VendorID = 0x1002
	assert.Error(t, validHeader().Check(other))
}

func TestLoadStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline_cache.bin")

	data, err := Load(path, testDevice)
	require.NoError(t, err)
	assert.Nil(t, data)

	want := blob(t, validHeader(), []byte("pipelines"))
	require.NoError(t, Store(path, want))
	require.NoError(t, Store(path, nil))

	data, err = Load(path, testDevice)
	require.NoError(t, err)
	assert.Equal(t, want, data)
}

func TestLoadRemovesForeignCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline_cache.bin")
	h := validHeader()
	h.DeviceID++
	require.NoError(t, os.WriteFile(path, blob(t, h, nil), 0o666))

	data, err := Load(path, testDevice)
	assert.Nil(t, data)
	assert.True(t, errors.Is(err, ErrInvalid))

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
