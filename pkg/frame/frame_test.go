package frame_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/informalsystems/frameload/pkg/frame"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	msgTypes := []uint16{0, 1, 2, 255, 256, 0x7FFF, 65000, 65534, 65535}
	rng := rand.New(rand.NewSource(42))
	for _, msgType := range msgTypes {
		for size := 0; size <= 300; size += 13 {
			payload := make([]byte, size)
			rng.Read(payload)

			encoded := frame.Encode(msgType, payload)
			require.Len(t, encoded, size+frame.HeaderSize)

			gotType, gotPayload, err := frame.Decode(bytes.NewReader(encoded))
			require.NoError(t, err)
			require.Equal(t, msgType, gotType)
			require.Equal(t, size, len(gotPayload))
			require.True(t, bytes.Equal(payload, gotPayload), "payload mismatch for msgType %d size %d", msgType, size)
		}
	}
}

func TestLengthInvariant(t *testing.T) {
	for _, size := range []int{0, 1, 2, 16, 1024, 65536} {
		encoded := frame.Encode(2, make([]byte, size))
		length := binary.BigEndian.Uint32(encoded[:frame.LengthSize])
		if int(length) != 2+size {
			t.Errorf("Expected length field to be %d, but was %d", 2+size, length)
		}
		if int(length) != len(encoded)-frame.LengthSize {
			t.Errorf("Expected length field to cover the rest of the frame (%d bytes), but was %d", len(encoded)-frame.LengthSize, length)
		}
	}
}

func TestDecodeConsecutiveFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, frame.WriteFrame(&buf, 1, nil))
	require.NoError(t, frame.WriteFrame(&buf, 2, []byte("hello")))
	require.NoError(t, frame.WriteFrame(&buf, 65535, []byte{0}))

	dec := frame.NewDecoder(&buf, 0)
	expected := []struct {
		msgType uint16
		payload string
	}{
		{1, ""},
		{2, "hello"},
		{65535, "\x00"},
	}
	for _, e := range expected {
		msgType, payload, err := dec.Decode()
		require.NoError(t, err)
		require.Equal(t, e.msgType, msgType)
		require.Equal(t, e.payload, string(payload))
	}
	_, _, err := dec.Decode()
	require.ErrorIs(t, err, frame.ErrIncompleteFrame)
}

func TestDecodeFailures(t *testing.T) {
	full := frame.Encode(7, []byte("truncate me"))
	testCases := []struct {
		name     string
		input    []byte
		expected error
		inBody   bool
	}{
		{"empty source", nil, frame.ErrIncompleteFrame, false},
		{"partial header", full[:3], frame.ErrIncompleteFrame, false},
		{"header only", full[:frame.LengthSize], frame.ErrIncompleteFrame, true},
		{"partial body", full[:len(full)-1], frame.ErrIncompleteFrame, true},
		{"zero length", []byte{0, 0, 0, 0}, frame.ErrInvalidLength, false},
		{"length one", []byte{0, 0, 0, 1, 9}, frame.ErrInvalidLength, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := frame.Decode(bytes.NewReader(tc.input))
			require.ErrorIs(t, err, tc.expected)
			var incomplete *frame.IncompleteFrameError
			if errors.As(err, &incomplete) {
				require.Equal(t, tc.inBody, incomplete.InBody)
			}
		})
	}
}

func TestDecodeRejectsOversizedFrames(t *testing.T) {
	encoded := frame.Encode(2, make([]byte, 100))
	_, _, err := frame.NewDecoder(bytes.NewReader(encoded), 50).Decode()
	require.ErrorIs(t, err, frame.ErrFrameTooLarge)

	_, _, err = frame.NewDecoder(bytes.NewReader(encoded), 102).Decode()
	require.NoError(t, err)
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestDecodePassesThroughTransportErrors(t *testing.T) {
	reset := errors.New("connection reset by peer")
	_, _, err := frame.Decode(failingReader{reset})
	require.ErrorIs(t, err, reset)
	require.False(t, errors.Is(err, frame.ErrIncompleteFrame))
}

func TestIncompleteFrameErrorUnwraps(t *testing.T) {
	_, _, err := frame.Decode(bytes.NewReader([]byte{0, 0}))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Contains(t, err.Error(), "header truncated after 2 of 4 bytes")
}

func BenchmarkEncode(b *testing.B) {
	payload := make([]byte, 256)
	for n := 0; n < b.N; n++ {
		_ = frame.Encode(2, payload)
	}
}
