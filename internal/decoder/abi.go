package decoder

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// mustABI parses a JSON ABI fragment at init time. The fragments below only
// carry the events each decoder claims.
func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
