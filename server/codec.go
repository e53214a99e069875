package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"go-bridge/relay"

	"github.com/fxamacker/cbor/v2"
)

// Codec encodes context frames.
type Codec interface {
	Name() string
	// Flag is OR'ed into the flags of context frames written with this codec.
	Flag() relay.Flag
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var cborEncMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

type JSONCodec struct{}

func (JSONCodec) Name() string                       { return "json" }
func (JSONCodec) Flag() relay.Flag                   { return 0 }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type CBORCodec struct{}

func (CBORCodec) Name() string                       { return "cbor" }
func (CBORCodec) Flag() relay.Flag                   { return relay.CodecCBOR }
func (CBORCodec) Marshal(v any) ([]byte, error)      { return cborEncMode.Marshal(v) }
func (CBORCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

// CodecByName resolves "json" or "cbor".
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// codecFor picks the decoder for a context frame from its flags.
func codecFor(flags relay.Flag) Codec {
	if flags.Has(relay.CodecCBOR) {
		return CBORCodec{}
	}
	return JSONCodec{}
}
