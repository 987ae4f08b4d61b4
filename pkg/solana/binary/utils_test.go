package binary

import (
	"crypto/ed25519"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip_Layout(t *testing.T) {
	key, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	amount := uint64(42)
	b := make([]byte, 1+32+32+8+8+4+36+12)

	var offset int
	PutBool(b[offset:], true, &offset)
	PutKey32(b[offset:], key, &offset)
	PutKey32(b[offset:], nil, &offset)
	PutUint64(b[offset:], math.MaxUint64, &offset)
	PutInt64(b[offset:], -7, &offset)
	PutUint32(b[offset:], 9, &offset)
	PutOptionalKey32(b[offset:], key, &offset, 4)
	PutOptionalUint64(b[offset:], &amount, &offset, 4)
	require.Equal(t, len(b), offset)

	var (
		flag        uint8
		k1, k2, opt ed25519.PublicKey
		u64         uint64
		i64         int64
		u32         uint32
		optAmount   *uint64
	)

	offset = 0
	GetUint8(b[offset:], &flag, &offset)
	GetKey32(b[offset:], &k1, &offset)
	GetKey32(b[offset:], &k2, &offset)
	GetUint64(b[offset:], &u64, &offset)
	GetInt64(b[offset:], &i64, &offset)
	GetUint32(b[offset:], &u32, &offset)
	GetOptionalKey32(b[offset:], &opt, &offset, 4)
	GetOptionalUint64(b[offset:], &optAmount, &offset, 4)
	require.Equal(t, len(b), offset)

	assert.EqualValues(t, 1, flag)
	assert.EqualValues(t, key, k1)
	assert.EqualValues(t, make([]byte, 32), k2)
	assert.EqualValues(t, uint64(math.MaxUint64), u64)
	assert.EqualValues(t, -7, i64)
	assert.EqualValues(t, 9, u32)
	assert.EqualValues(t, key, opt)
	require.NotNil(t, optAmount)
	assert.EqualValues(t, 42, *optAmount)
}

func TestPutKey32_ZeroFillsNull(t *testing.T) {
	b := make([]byte, 32)
	for i := range b {
		b[i] = 0xff
	}

	var offset int
	PutKey32(b, nil, &offset)
	assert.Equal(t, make([]byte, 32), b)
	assert.Equal(t, 32, offset)
}
