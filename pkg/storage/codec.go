package storage

import (
	"fmt"
	"math/big"
)

// encodeAmount stores a non-negative amount as minimal big-endian bytes
func encodeAmount(v *big.Int) ([]byte, error) {
	if v == nil {
		return []byte{}, nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %s", v)
	}
	return v.Bytes(), nil
}

func decodeAmount(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}
