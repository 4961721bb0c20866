// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package service

import (
	"fmt"
	"net/http"

	"github.com/ava-labs/avalanchego/utils/formatting"

	"github.com/fluencelabs/aquavm-sub004/interpreterdata"
)

// StaticService converts envelopes between their wire encodings. It needs
// no runner.
type StaticService struct{}

func CreateStaticService() *StaticService {
	return &StaticService{}
}

// EncodeArgs are arguments for Encode
type EncodeArgs struct {
	Data     string              `json:"data"`
	Encoding formatting.Encoding `json:"encoding"`
}

// EncodeReply is the reply from Encode
type EncodeReply struct {
	Bytes    string              `json:"bytes"`
	Encoding formatting.Encoding `json:"encoding"`
}

// Encode returns [args].Data in [args].Encoding
func (ss *StaticService) Encode(_ *http.Request, args *EncodeArgs, reply *EncodeReply) error {
	bytes, err := formatting.EncodeWithChecksum(args.Encoding, []byte(args.Data))
	if err != nil {
		return fmt.Errorf("couldn't encode data as string: %w", err)
	}
	reply.Bytes = bytes
	reply.Encoding = args.Encoding
	return nil
}

// DecodeArgs are arguments for Decode
type DecodeArgs struct {
	Bytes    string              `json:"bytes"`
	Encoding formatting.Encoding `json:"encoding"`
}

// DecodeReply is the reply from Decode. Data is the envelope as plain JSON.
type DecodeReply struct {
	Data     string              `json:"data"`
	Encoding formatting.Encoding `json:"encoding"`
}

// Decode decodes [args].Bytes and unwraps the envelope framing if present.
func (ss *StaticService) Decode(_ *http.Request, args *DecodeArgs, reply *DecodeReply) error {
	bytes, err := formatting.Decode(args.Encoding, args.Bytes)
	if err != nil {
		return fmt.Errorf("couldn't decode data as string: %w", err)
	}
	data, _, err := interpreterdata.Parse(bytes)
	if err != nil {
		return fmt.Errorf("couldn't parse envelope: %w", err)
	}
	plain, err := data.Serialize(interpreterdata.FormatJSON)
	if err != nil {
		return err
	}
	reply.Data = string(plain)
	reply.Encoding = args.Encoding
	return nil
}
