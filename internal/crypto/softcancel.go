package crypto

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// VerifySoftCancel checks an off-chain cancellation: the maker signs the
// order id string (EIP-191 personal message) and the recovered signer must
// equal the order's maker. The message is the id's UTF-8 text, not its
// decoded bytes, matching what personal_sign produces for a string input.
func VerifySoftCancel(orderID, maker, signatureHex string) error {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}

	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(orderID), orderID)
	digest := ethcrypto.Keccak256([]byte(prefixed))

	// Normalize the recovery id: wallets commonly emit 27/28.
	rec := make([]byte, 65)
	copy(rec, sig)
	if rec[64] >= 27 {
		rec[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(digest, rec)
	if err != nil {
		return fmt.Errorf("crypto: recover signer: %w", err)
	}

	signer := strings.ToLower(ethcrypto.PubkeyToAddress(*pub).Hex())
	if signer != strings.ToLower(maker) {
		return fmt.Errorf("crypto: signer %s is not order maker %s", signer, maker)
	}
	return nil
}
