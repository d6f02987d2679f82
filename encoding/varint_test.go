package encoding

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The encoding boundaries come straight from the protocol: 7 data bits per
// byte, continuation in the high bit, at most four bytes.
var varintBoundaries = []struct {
	value   uint32
	encoded []byte
}{
	{0, []byte{0x00}},
	{1, []byte{0x01}},
	{127, []byte{0x7F}},
	{128, []byte{0x80, 0x01}},
	{16383, []byte{0xFF, 0x7F}},
	{16384, []byte{0x80, 0x80, 0x01}},
	{2097151, []byte{0xFF, 0xFF, 0x7F}},
	{2097152, []byte{0x80, 0x80, 0x80, 0x01}},
	{268435455, []byte{0xFF, 0xFF, 0xFF, 0x7F}},
}

func TestEncodeVariableByteInteger(t *testing.T) {
	for _, tt := range varintBoundaries {
		got, err := EncodeVariableByteInteger(tt.value)
		require.NoError(t, err, "value %d", tt.value)
		assert.Equal(t, tt.encoded, got, "value %d", tt.value)
	}
}

func TestEncodeVariableByteIntegerTooLarge(t *testing.T) {
	_, err := EncodeVariableByteInteger(MaxVariableByteInteger + 1)
	assert.ErrorIs(t, err, ErrVariableByteIntegerTooLarge)
}

func TestDecodeVariableByteInteger(t *testing.T) {
	for _, tt := range varintBoundaries {
		got, err := DecodeVariableByteInteger(bytes.NewReader(tt.encoded))
		require.NoError(t, err, "value %d", tt.value)
		assert.Equal(t, tt.value, got, "value %d", tt.value)
	}
}

func TestDecodeVariableByteIntegerMalformed(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "five continuation bytes", input: []byte{0x80, 0x80, 0x80, 0x80, 0x01}, wantErr: ErrMalformedVariableByteInteger},
		{name: "four bytes all continuing", input: []byte{0xFF, 0xFF, 0xFF, 0xFF}, wantErr: ErrMalformedVariableByteInteger},
		{name: "empty input", input: nil, wantErr: ErrUnexpectedEOF},
		{name: "truncated after continuation", input: []byte{0x80}, wantErr: ErrUnexpectedEOF},
		{name: "truncated mid-sequence", input: []byte{0x80, 0x80}, wantErr: ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeVariableByteInteger(bytes.NewReader(tt.input))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeVariableByteIntegerFromBytes(t *testing.T) {
	for _, tt := range varintBoundaries {
		// trailing garbage must not affect the consumed count
		input := append(append([]byte{}, tt.encoded...), 0xAA, 0xBB)
		got, n, err := DecodeVariableByteIntegerFromBytes(input)
		require.NoError(t, err, "value %d", tt.value)
		assert.Equal(t, tt.value, got)
		assert.Equal(t, len(tt.encoded), n, "consumed length for %d", tt.value)
	}
}

func TestDecodeVariableByteIntegerFromBytesMalformed(t *testing.T) {
	_, _, err := DecodeVariableByteIntegerFromBytes([]byte{0x80, 0x80})
	assert.ErrorIs(t, err, ErrUnexpectedEOF)

	_, _, err = DecodeVariableByteIntegerFromBytes([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	assert.ErrorIs(t, err, ErrMalformedVariableByteInteger)
}

func TestEncodeVariableByteIntegerTo(t *testing.T) {
	buf := make([]byte, 8)

	n, err := EncodeVariableByteIntegerTo(buf, 2, 16384)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{0x80, 0x80, 0x01}, buf[2:5])

	_, err = EncodeVariableByteIntegerTo(make([]byte, 2), 0, 16384)
	assert.ErrorIs(t, err, ErrBufferTooSmall)

	_, err = EncodeVariableByteIntegerTo(buf, 0, MaxVariableByteInteger+1)
	assert.ErrorIs(t, err, ErrVariableByteIntegerTooLarge)
}

func TestSizeVariableByteInteger(t *testing.T) {
	for _, tt := range varintBoundaries {
		assert.Equal(t, len(tt.encoded), SizeVariableByteInteger(tt.value), "value %d", tt.value)
	}
	assert.Equal(t, 0, SizeVariableByteInteger(MaxVariableByteInteger+1))
}

// TestVariableByteIntegerRoundTrip checks the minimal-encoding property
// around every byte-count boundary: decode(encode(n)) == (n, k) with the
// expected k, for n at and adjacent to each boundary.
func TestVariableByteIntegerRoundTrip(t *testing.T) {
	samples := []uint32{
		0, 1, 2, 126, 127, 128, 129,
		16382, 16383, 16384, 16385,
		2097150, 2097151, 2097152, 2097153,
		268435454, 268435455,
	}

	for _, value := range samples {
		encoded, err := EncodeVariableByteInteger(value)
		require.NoError(t, err, "value %d", value)
		require.Equal(t, SizeVariableByteInteger(value), len(encoded), "minimal length for %d", value)

		decoded, n, err := DecodeVariableByteIntegerFromBytes(encoded)
		require.NoError(t, err, "value %d", value)
		assert.Equal(t, value, decoded)
		assert.Equal(t, len(encoded), n)
	}
}

func BenchmarkEncodeVariableByteInteger(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = EncodeVariableByteInteger(2097152)
	}
}

func BenchmarkDecodeVariableByteIntegerFromBytes(b *testing.B) {
	data := []byte{0x80, 0x80, 0x80, 0x01}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _, _ = DecodeVariableByteIntegerFromBytes(data)
	}
}
