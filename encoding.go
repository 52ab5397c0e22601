package undotree

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// encodeValues appends each value to buf as a separate msgpack object.
func encodeValues(buf []byte, values ...any) []byte {
	bb := bytesBuilder{buf}
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	defer msgpack.PutEncoder(enc)
	for _, v := range values {
		if err := enc.Encode(v); err != nil {
			panic(fmt.Errorf("failed to encode %T using MsgPack: %w", v, err))
		}
	}
	return bb.Buf
}

// valueDecoder reads consecutive msgpack objects from one blob, keeping
// track of the offset for error reporting.
type valueDecoder struct {
	data []byte
	r    bytes.Reader
	dec  *msgpack.Decoder
}

func newValueDecoder(data []byte) *valueDecoder {
	d := &valueDecoder{data: data}
	d.r.Reset(data)
	d.dec = msgpack.GetDecoder()
	d.dec.Reset(&d.r)
	return d
}

func (d *valueDecoder) Off() int {
	return len(d.data) - d.r.Len()
}

func (d *valueDecoder) Remaining() int {
	return d.r.Len()
}

func (d *valueDecoder) Decode(v any, what string) error {
	off := d.Off()
	if d.r.Len() == 0 {
		return validationErrf(d.data, off, nil, "missing %s", what)
	}
	if err := d.dec.Decode(v); err != nil {
		return validationErrf(d.data, off, err, "failed to decode %s", what)
	}
	return nil
}

func (d *valueDecoder) Close() {
	if d.dec != nil {
		msgpack.PutDecoder(d.dec)
		d.dec = nil
	}
}
