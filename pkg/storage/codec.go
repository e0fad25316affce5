package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/uhyunpark/spotmargin/pkg/chain"
)

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

func heightKey(h chain.Height) []byte { return u64(uint64(h)) }

func decodeHeight(b []byte) chain.Height {
	if len(b) != 8 {
		return 0
	}
	return chain.Height(binary.BigEndian.Uint64(b))
}
