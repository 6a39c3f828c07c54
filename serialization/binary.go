package serialization

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/kelindar/binary"
)

const (
	// BinaryName is the registry key of the binary codec.
	BinaryName = "binary"
	// BinaryContentType is the media type of binary payloads.
	BinaryContentType = "application/x-courier-binary"
)

// Binary is the length-prefixed structured codec.
var Binary Codec = BinaryCodec{}

// BinaryCodec encodes payloads with a schema derived from the Go type:
// fields are written in declaration order, variable length values carry a
// uvarint length prefix. Both sides must agree on the payload type.
type BinaryCodec struct{}

func (BinaryCodec) Marshal(v any) (out []byte, err error) {
	if v == nil {
		return nil, errors.New("binary: cannot encode nil value")
	}
	// the reflection walker panics on kinds it cannot describe (chan, func)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("binary: cannot encode %T: %v", v, r)
		}
	}()
	return binary.Marshal(v)
}

func (BinaryCodec) Unmarshal(b []byte, v any) (err error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("binary: decode target must be a non-nil pointer, got %T", v)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("binary: malformed input for %T: %v", v, r)
		}
	}()
	r := bytes.NewReader(b)
	if err := binary.NewDecoder(r).Decode(v); err != nil {
		return err
	}
	if r.Len() > 0 {
		return fmt.Errorf("binary: %d trailing bytes after %T", r.Len(), v)
	}
	return nil
}

func (BinaryCodec) Name() string        { return BinaryName }
func (BinaryCodec) ContentType() string { return BinaryContentType }
