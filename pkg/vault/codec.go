package vault

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/gematik/zero-dash/pkg/idp"
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

func encode(tokens *idp.Tokens) ([]byte, error) {
	data, err := encMode.Marshal(tokens)
	if err != nil {
		return nil, fmt.Errorf("encode tokens: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*idp.Tokens, error) {
	var tokens idp.Tokens
	if err := cbor.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("decode tokens: %w", err)
	}
	return &tokens, nil
}
