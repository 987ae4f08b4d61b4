package auction

import (
	"crypto/ed25519"

	"github.com/code-payments/code-auction/pkg/solana"
)

var custodyAuthoritySeed = []byte("escrow")

// GetCustodyAuthority returns the program address that holds every escrowed
// asset of the program, along with the bump needed to sign as it.
func GetCustodyAuthority(programID ed25519.PublicKey) (ed25519.PublicKey, uint8, error) {
	return solana.FindProgramAddressAndBump(programID, custodyAuthoritySeed)
}

func custodyAuthoritySignerSeeds(bump uint8) [][]byte {
	return [][]byte{custodyAuthoritySeed, {bump}}
}
