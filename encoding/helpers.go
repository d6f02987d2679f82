package encoding

import (
	"encoding/binary"
	"io"
)

// ProtocolVersion identifies the CONNECT packet's protocol level byte.
type ProtocolVersion byte

const (
	ProtocolVersion311 ProtocolVersion = 4
)

// EncodeFixedHeader writes the packet type/flags byte followed by the
// remaining length as a Variable Byte Integer.
func (fh *FixedHeader) EncodeFixedHeader(w io.Writer) error {
	if err := ValidateRemainingLength(fh.RemainingLength); err != nil {
		return err
	}

	firstByte := byte(fh.Type)<<4 | fh.Flags
	if _, err := w.Write([]byte{firstByte}); err != nil {
		return err
	}

	buf, err := EncodeVariableByteInteger(fh.RemainingLength)
	if err != nil {
		return err
	}

	_, err = w.Write(buf)
	return err
}

func writeByte(w io.Writer, value byte) error {
	_, err := w.Write([]byte{value})
	return err
}

func writeTwoByteInt(w io.Writer, value uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], value)
	_, err := w.Write(buf[:])
	return err
}

func writeUTF8String(w io.Writer, value string) error {
	if len(value) > 0xFFFF {
		return ErrPayloadTooLarge
	}
	if err := writeTwoByteInt(w, uint16(len(value))); err != nil {
		return err
	}
	_, err := io.WriteString(w, value)
	return err
}

func writeBinaryData(w io.Writer, value []byte) error {
	if len(value) > 0xFFFF {
		return ErrPayloadTooLarge
	}
	if err := writeTwoByteInt(w, uint16(len(value))); err != nil {
		return err
	}
	_, err := w.Write(value)
	return err
}

// reader wraps a byte slice with a cursor for sequential field decoding, used
// by the Decode* functions to walk a PUBLISH/CONNECT/SUBSCRIBE payload that
// has already been read into memory per its fixed-header remaining length.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) readTwoByteInt() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, ErrUnexpectedEOF
	}
	v := binary.BigEndian.Uint16(r.data[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *reader) readUTF8String() (string, error) {
	length, err := r.readTwoByteInt()
	if err != nil {
		return "", err
	}
	if r.pos+int(length) > len(r.data) {
		return "", ErrUnexpectedEOF
	}
	raw := r.data[r.pos : r.pos+int(length)]
	if err := ValidateUTF8String(raw); err != nil {
		return "", err
	}
	s := string(raw)
	r.pos += int(length)
	return s, nil
}

func (r *reader) readBinaryData() ([]byte, error) {
	length, err := r.readTwoByteInt()
	if err != nil {
		return nil, err
	}
	if r.pos+int(length) > len(r.data) {
		return nil, ErrUnexpectedEOF
	}
	raw := make([]byte, length)
	copy(raw, r.data[r.pos:r.pos+int(length)])
	r.pos += int(length)
	return raw, nil
}

func (r *reader) remaining() []byte {
	return r.data[r.pos:]
}

func (r *reader) atEnd() bool {
	return r.pos >= len(r.data)
}
