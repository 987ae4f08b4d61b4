package solana

import (
	"crypto/ed25519"
	"crypto/sha256"
	"hash"
	"testing"

	"github.com/mr-tron/base58/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProgramAddress(t *testing.T) {
	exceededSeed := make([]byte, maxSeedLength+1)
	maxSeed := make([]byte, maxSeedLength)

	// The typo here was taken directly from the Solana test case,
	// which was used to derive the expected outputs.
	publicKey, err := base58.Decode("SeedPubey1111111111111111111111111111111111")
	require.NoError(t, err)
	programID, err := base58.Decode("BPFLoader1111111111111111111111111111111111")
	require.NoError(t, err)

	_, err = CreateProgramAddress(programID, exceededSeed)
	assert.Equal(t, ErrMaxSeedLengthExceeded, err)
	_, err = CreateProgramAddress(programID, []byte("short seed"), exceededSeed)
	assert.Equal(t, ErrMaxSeedLengthExceeded, err)

	_, err = CreateProgramAddress(programID, maxSeed)
	assert.NoError(t, err)

	tooMany := make([][]byte, maxSeeds+1)
	_, err = CreateProgramAddress(programID, tooMany...)
	assert.Equal(t, ErrTooManySeeds, err)

	for _, tc := range []struct {
		expected string
		input    [][]byte
	}{
		{"3gF2KMe9KiC6FNVBmfg9i267aMPvK37FewCip4eGBFcT", [][]byte{{}, {1}}},
		{"7ytmC1nT1xY4RfxCV2ZgyA7UakC93do5ZdyhdF3EtPj7", [][]byte{[]byte("☉")}},
		{"HwRVBufQ4haG5XSgpspwKtNd3PC9GM9m1196uJW36vds", [][]byte{[]byte("Talking"), []byte("Squirrels")}},
		{"GUs5qLUfsEHkcMB9T38vjr18ypEhRuNWiePW2LoK4E3K", [][]byte{publicKey}},
	} {
		key, err := CreateProgramAddress(programID, tc.input...)
		assert.NoError(t, err)
		assert.Equal(t, tc.expected, base58.Encode(key))
	}
}

type fixedHash struct {
	sumResult []byte
}

func (f *fixedHash) Write(p []byte) (n int, err error) { return len(p), nil }
func (f *fixedHash) Sum(b []byte) []byte                { return f.sumResult }
func (f *fixedHash) Reset()                             {}
func (f *fixedHash) Size() int                          { return sha256.Size }
func (f *fixedHash) BlockSize() int                     { return sha256.BlockSize }

func TestCreateProgramAddress_OnCurve(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	programHashCtor = func() hash.Hash {
		return &fixedHash{sumResult: pub}
	}
	defer func() {
		programHashCtor = sha256.New
	}()

	programID, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	_, err = CreateProgramAddress(programID, []byte("escrow"))
	assert.Equal(t, ErrInvalidPublicKey, err)

	_, _, err = FindProgramAddressAndBump(programID, []byte("escrow"))
	assert.Equal(t, ErrNoViableBumpSeed, err)
}

func TestFindProgramAddressAndBump_Reproducible(t *testing.T) {
	for i := 0; i < 250; i++ {
		programID, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)

		address, bump, err := FindProgramAddressAndBump(programID, []byte("escrow"))
		require.NoError(t, err)

		// The owning program re-derives the same address from the seed plus
		// the bump, which is how it authorizes as the address.
		recreated, err := CreateProgramAddress(programID, []byte("escrow"), []byte{bump})
		require.NoError(t, err)
		assert.EqualValues(t, address, recreated)

		other, err := FindProgramAddress(programID, []byte("escrow"))
		require.NoError(t, err)
		assert.EqualValues(t, address, other)
	}
}

func TestFindProgramAddress_Ref(t *testing.T) {
	for _, r := range []struct {
		programID string
		expected  string
	}{
		{"4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM", "Bn9pAWUXWc5Kd849xTkQcHqiCbHUEizLFn4r5Cf8XYnd"},
		{"8opHzTAnfzRpPEx21XtnrVTX28YQuCpAjcn1PczScKh", "oDvUHiiGdMo31xYzjefAzUekWH8EbCKrxgs2FkyTs1S"},
		{"CiDwVBFgWV9E5MvXWoLgnEgn2hK7rJikbvfWavzAQz3", "B2vBn2bmF9GuaGkebrm8oUqDC34pE6m4bagjNcVE6msv"},
	} {
		programID, err := base58.Decode(r.programID)
		require.NoError(t, err)
		expected, err := base58.Decode(r.expected)
		require.NoError(t, err)

		actual, err := FindProgramAddress(programID, []byte("Lil'"), []byte("Bits"))
		assert.NoError(t, err)
		assert.EqualValues(t, expected, actual)
	}
}
