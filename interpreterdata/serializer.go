// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package interpreterdata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/utils/wrappers"
)

// Format is the wire format of an envelope.
type Format byte

const (
	// FormatJSON is the plain JSON encoding.
	FormatJSON Format = iota
	// FormatBinary wraps the JSON encoding in a length-prefixed frame.
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatBinary:
		return "binary"
	default:
		return fmt.Sprintf("format(%d)", byte(f))
	}
}

// ParseFormat parses a format name as used in configuration.
func ParseFormat(name string) (Format, error) {
	switch name {
	case "", "json":
		return FormatJSON, nil
	case "binary":
		return FormatBinary, nil
	default:
		return 0, fmt.Errorf("unknown data format %q", name)
	}
}

const (
	payloadJSON byte = 1

	frameHeaderLen = 2 + 1 + wrappers.IntLen
)

var (
	frameMagic = []byte{'A', 'Q'}

	ErrInvalidFrame = errors.New("invalid binary data frame")
)

// Parse decodes an envelope. Empty input is an empty envelope. Binary
// frames are recognized by their magic prefix, anything else is read as
// JSON.
func Parse(raw []byte) (*InterpreterData, Format, error) {
	if len(raw) == 0 {
		return New(), FormatJSON, nil
	}

	format := FormatJSON
	payload := raw
	if bytes.HasPrefix(raw, frameMagic) {
		unframed, err := unframe(raw)
		if err != nil {
			return nil, FormatBinary, err
		}
		format = FormatBinary
		payload = unframed
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	data := &InterpreterData{}
	if err := dec.Decode(data); err != nil {
		return nil, format, fmt.Errorf("couldn't decode interpreter data: %w", err)
	}
	if dec.More() {
		return nil, format, errors.New("couldn't decode interpreter data: trailing bytes")
	}
	data.fillNil()
	return data, format, nil
}

// Serialize encodes [d] in [format].
func (d *InterpreterData) Serialize(format Format) ([]byte, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatJSON:
		return payload, nil
	case FormatBinary:
		return frame(payload)
	default:
		return nil, fmt.Errorf("unknown data format %s", format)
	}
}

func frame(payload []byte) ([]byte, error) {
	size := frameHeaderLen + len(payload)
	p := wrappers.Packer{
		MaxSize: size,
		Bytes:   make([]byte, 0, size),
	}
	p.PackFixedBytes(frameMagic)
	p.PackByte(payloadJSON)
	p.PackBytes(payload)
	if p.Errored() {
		return nil, p.Err
	}
	return p.Bytes, nil
}

func unframe(raw []byte) ([]byte, error) {
	if len(raw) < frameHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidFrame, len(raw))
	}
	p := wrappers.Packer{Bytes: raw}
	p.UnpackFixedBytes(len(frameMagic))
	kind := p.UnpackByte()
	payload := p.UnpackBytes()
	switch {
	case p.Errored():
		return nil, fmt.Errorf("%w: %s", ErrInvalidFrame, p.Err)
	case kind != payloadJSON:
		return nil, fmt.Errorf("%w: unknown payload kind %d", ErrInvalidFrame, kind)
	case p.Offset != len(raw):
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidFrame, len(raw)-p.Offset)
	}
	return payload, nil
}
