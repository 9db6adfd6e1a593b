package source

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zwavetools/zwsniff/internal/zlf"
)

func TestFileSource_ReadsWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")
	content := []byte{0x23, 0x01, 0x00, 0x23, 0x01, 0x04, 0x14, 0x02, 0x01, 0x03}
	require.NoError(t, os.WriteFile(path, content, 0o644))

	s := NewFileSource(path)
	require.NoError(t, s.Open())
	defer s.Close()

	var got []byte
	for {
		chunk, err := s.ReadChunk()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, chunk.Data...)
	}
	assert.Equal(t, content, got)
}

func TestFileSource_MissingFileIsStreamError(t *testing.T) {
	s := NewFileSource(filepath.Join(t.TempDir(), "absent.bin"))

	err := s.Open()
	require.Error(t, err)
	var se *StreamError
	assert.ErrorAs(t, err, &se)
}

func TestZLFSource_ReplaysRecordsSkippingOutgoing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.zlf")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := zlf.NewWriter(f)
	require.NoError(t, err)
	require.NoError(t, w.Write(&zlf.Record{Timestamp: 100, API: zlf.APIZniffer, Payload: []byte{0x23, 0x01, 0x00}}))
	require.NoError(t, w.Write(&zlf.Record{Timestamp: 150, Outgoing: true, API: zlf.APIZniffer, Payload: []byte{0xAA}}))
	require.NoError(t, w.Write(&zlf.Record{Timestamp: 200, API: zlf.APIPti, Payload: []byte{0x21, 0x04, 0x10, 0x00, 0x9D, 0x01}}))
	require.NoError(t, f.Close())

	s := NewZLFSource(path)
	require.NoError(t, s.Open())
	defer s.Close()

	first, err := s.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x23, 0x01, 0x00}, first.Data)
	assert.Equal(t, uint64(10), first.Arrival)

	second, err := s.ReadChunk()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x21, 0x04, 0x10, 0x00, 0x9D, 0x01}, second.Data)

	_, err = s.ReadChunk()
	assert.Equal(t, io.EOF, err)
}
