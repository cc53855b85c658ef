package decoder

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

// TokenTransfers decodes the standard ERC721/ERC1155 transfer and approval
// events that every collection emits regardless of marketplace. Transfers
// from the zero address additionally produce mint records and, when the
// minting transaction paid value, primary-sale fills — hence the "mint"
// order kind.
type TokenTransfers struct {
	deps Deps
}

func NewTokenTransfers(deps Deps) *TokenTransfers {
	return &TokenTransfers{deps: deps}
}

func (t *TokenTransfers) Kind() domain.OrderKind { return domain.OrderKindMint }

func (t *TokenTransfers) Topics() []common.Hash {
	return []common.Hash{
		topicERC721Transfer,
		topicERC721SetForAll,
		topicERC1155TransferSingle,
		topicERC1155TransferBatch,
	}
}

func (t *TokenTransfers) Addresses() []common.Address { return nil }

func (t *TokenTransfers) DecodeLogs(ctx context.Context, logs []domain.Log, out *domain.OnChainData) error {
	var mints []mintUnit

	for _, log := range logs {
		var err error
		switch log.Topics[0] {
		case topicERC721Transfer:
			// The ERC20 Transfer event shares this signature but carries the
			// amount in data, leaving only three topics.
			if len(log.Topics) != 4 {
				continue
			}
			mints = t.decodeERC721Transfer(log, mints, out)
		case topicERC721SetForAll:
			err = t.decodeApprovalForAll(log, out)
		case topicERC1155TransferSingle:
			mints, err = t.decodeTransferSingle(log, mints, out)
		case topicERC1155TransferBatch:
			mints, err = t.decodeTransferBatch(log, mints, out)
		}
		if err != nil {
			t.deps.Logger.Warn("tokens: skipping malformed log",
				slog.String("tx_hash", log.TxHash.Hex()),
				slog.Uint64("log_index", uint64(log.LogIndex)),
				slog.String("error", err.Error()),
			)
		}
	}

	t.deps.emitMintFills(ctx, mints, out)
	return nil
}
