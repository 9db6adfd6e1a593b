package zlf

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	w, err := NewWriter(&buf)
	require.NoError(t, err)

	records := []*Record{
		{Timestamp: dotNetEpochTicks + 1000, Session: 1, API: APIZniffer, Payload: []byte{0x23, 0x01, 0x00}},
		{Timestamp: dotNetEpochTicks + 2000, Session: 1, Outgoing: true, API: APIPti, Payload: []byte{0x21, 0x04, 0x10, 0x00, 0x9D, 0x2A}},
		{Timestamp: dotNetEpochTicks + 3000, Session: 2, API: APIZniffer, Payload: nil},
	}
	for _, rec := range records {
		require.NoError(t, w.Write(rec))
	}

	r, err := NewReader(&buf)
	require.NoError(t, err)

	for _, want := range records {
		got, err := r.Next()
		require.NoError(t, err)
		assert.Equal(t, want.Timestamp, got.Timestamp)
		assert.Equal(t, want.Outgoing, got.Outgoing)
		assert.Equal(t, want.Session, got.Session)
		assert.Equal(t, want.API, got.API)
		assert.Equal(t, append([]byte{}, want.Payload...), got.Payload)
	}

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestNewReader_RejectsBadVersion(t *testing.T) {
	header := make([]byte, 2048)
	header[0] = 99
	header[2046], header[2047] = 0x23, 0x12

	_, err := NewReader(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestNewReader_RejectsBadMarker(t *testing.T) {
	header := make([]byte, 2048)
	header[0] = Version

	_, err := NewReader(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrBadMarker)
}

func TestNext_RejectsUnknownAPIType(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, w.Write(&Record{API: APIZniffer, Payload: []byte{0x01}}))

	raw := buf.Bytes()
	raw[len(raw)-1] = 0x42 // corrupt the trailer

	r, err := NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrBadAPIType)
}

func TestRecord_Time(t *testing.T) {
	rec := &Record{Timestamp: dotNetEpochTicks + 10_000_000} // one second
	assert.Equal(t, int64(1), rec.Time().Unix())
}
