package pkg

import (
	"encoding/binary"
	"fmt"
)

func Int64ToBytes(num int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(num))
	return b
}

// BytesToInt64 decodes a big endian height written by Int64ToBytes.
func BytesToInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("input byte slice should have length 8, got %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}
