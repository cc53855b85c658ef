package crypto

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Token set ids are stable string predicates describing which token(s) an
// order applies to. Single-token and contract-wide sets are readable;
// list-based (criteria) sets embed a hash of the sorted member tokens.

// TokenSetSingle describes exactly one token.
func TokenSetSingle(contract, tokenID string) string {
	return fmt.Sprintf("token:%s:%s", strings.ToLower(contract), tokenID)
}

// TokenSetContract describes every token of a contract.
func TokenSetContract(contract string) string {
	return "contract:" + strings.ToLower(contract)
}

// TokenSetRange describes a contiguous token-id range of a contract.
func TokenSetRange(contract, startTokenID, endTokenID string) string {
	return fmt.Sprintf("range:%s:%s:%s", strings.ToLower(contract), startTokenID, endTokenID)
}

// TokenSetList describes an explicit token list. Membership order does not
// matter: the members are sorted before hashing.
func TokenSetList(contract string, tokenIDs []string) string {
	sorted := make([]string, len(tokenIDs))
	copy(sorted, tokenIDs)
	sort.Strings(sorted)

	h := sha3.New256()
	h.Write([]byte(strings.ToLower(contract)))
	for _, id := range sorted {
		h.Write([]byte(":"))
		h.Write([]byte(id))
	}
	return "list:" + strings.ToLower(contract) + ":" + hex.EncodeToString(h.Sum(nil))
}
