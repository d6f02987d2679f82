package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUTF8String(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "plain ascii", input: []byte("sensors/temperature")},
		{name: "empty string", input: []byte{}},
		{name: "two-byte runes", input: []byte("températures/élevées")},
		{name: "three-byte runes", input: []byte("温度/センサー")},
		{name: "four-byte rune (emoji)", input: []byte("status/\xF0\x9F\x98\x80")},
		{name: "control characters tolerated in lenient mode", input: []byte("a\tb\x01c")},
		{name: "null byte", input: []byte("te\x00st"), wantErr: ErrNullCharacter},
		{name: "truncated multi-byte sequence", input: []byte{'a', 0xC3}, wantErr: ErrInvalidUTF8},
		{name: "stray continuation byte", input: []byte{0x80, 'a'}, wantErr: ErrInvalidUTF8},
		{name: "overlong encoding", input: []byte{0xC0, 0xAF}, wantErr: ErrInvalidUTF8},
		{name: "encoded surrogate half", input: []byte{0xED, 0xA0, 0x80}, wantErr: ErrInvalidUTF8},
		{name: "non-character U+FFFE", input: []byte{0xEF, 0xBF, 0xBE}, wantErr: ErrNonCharacterCodePoint},
		{name: "non-character U+FFFF", input: []byte{0xEF, 0xBF, 0xBF}, wantErr: ErrNonCharacterCodePoint},
		{name: "non-character U+FDD0", input: []byte{0xEF, 0xB7, 0x90}, wantErr: ErrNonCharacterCodePoint},
		{name: "plane-1 non-character U+1FFFE", input: []byte{0xF0, 0x9F, 0xBF, 0xBE}, wantErr: ErrNonCharacterCodePoint},
		{name: "max code point U+10FFFF is allowed", input: []byte{0xF4, 0x8F, 0xBF, 0xBF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUTF8String(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateUTF8StringStrict(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "plain ascii", input: []byte("client-42")},
		{name: "tab newline and CR are allowed", input: []byte("a\tb\nc\rd")},
		{name: "C0 control character", input: []byte("a\x01b"), wantErr: ErrControlCharacter},
		{name: "escape character", input: []byte("a\x1Bb"), wantErr: ErrControlCharacter},
		{name: "DEL", input: []byte("a\x7Fb"), wantErr: ErrControlCharacter},
		{name: "C1 control character U+0085", input: []byte("a\xC2\x85b"), wantErr: ErrControlCharacter},
		{name: "lenient failures still fail", input: []byte("a\x00b"), wantErr: ErrNullCharacter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUTF8StringStrict(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsValidUTF8String(t *testing.T) {
	assert.True(t, IsValidUTF8String([]byte("topic/level")))
	assert.False(t, IsValidUTF8String([]byte{0xFF, 0xFE}))

	assert.True(t, IsValidUTF8StringStrict([]byte("topic/level")))
	assert.False(t, IsValidUTF8StringStrict([]byte("a\x01b")))
}

func TestValidateCodePoint(t *testing.T) {
	assert.NoError(t, validateCodePoint('a'))
	assert.NoError(t, validateCodePoint('中'))
	assert.NoError(t, validateCodePoint(0x10FFFF))
	assert.ErrorIs(t, validateCodePoint(0x0000), ErrNullCharacter)
	assert.ErrorIs(t, validateCodePoint(0xD800), ErrSurrogateCodePoint)
	assert.ErrorIs(t, validateCodePoint(0xDFFF), ErrSurrogateCodePoint)
	assert.ErrorIs(t, validateCodePoint(0xFFFE), ErrNonCharacterCodePoint)
	assert.ErrorIs(t, validateCodePoint(0xFDD0), ErrNonCharacterCodePoint)
	assert.ErrorIs(t, validateCodePoint(0x2FFFF), ErrNonCharacterCodePoint)
}

func BenchmarkValidateUTF8String(b *testing.B) {
	data := []byte("sensors/building-7/floor-3/room-12/temperature")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = ValidateUTF8String(data)
	}
}

func BenchmarkValidateUTF8StringStrict(b *testing.B) {
	data := []byte("sensors/building-7/floor-3/room-12/temperature")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = ValidateUTF8StringStrict(data)
	}
}
