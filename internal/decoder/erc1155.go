package decoder

import (
	"math/big"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

var erc1155ABI = mustABI(`[
	{"anonymous":false,"name":"TransferSingle","type":"event","inputs":[
		{"indexed":true,"name":"operator","type":"address"},
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":false,"name":"id","type":"uint256"},
		{"indexed":false,"name":"value","type":"uint256"}]},
	{"anonymous":false,"name":"TransferBatch","type":"event","inputs":[
		{"indexed":true,"name":"operator","type":"address"},
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":false,"name":"ids","type":"uint256[]"},
		{"indexed":false,"name":"values","type":"uint256[]"}]}
]`)

var (
	topicERC1155TransferSingle = erc1155ABI.Events["TransferSingle"].ID
	topicERC1155TransferBatch  = erc1155ABI.Events["TransferBatch"].ID
)

func (t *TokenTransfers) decodeTransferSingle(log domain.Log, mints []mintUnit, out *domain.OnChainData) ([]mintUnit, error) {
	var ev struct {
		Id    *big.Int
		Value *big.Int
	}
	if err := erc1155ABI.UnpackIntoInterface(&ev, "TransferSingle", log.Data); err != nil {
		return mints, err
	}
	return t.appendERC1155(log, mints, out, 1, ev.Id, ev.Value), nil
}

func (t *TokenTransfers) decodeTransferBatch(log domain.Log, mints []mintUnit, out *domain.OnChainData) ([]mintUnit, error) {
	var ev struct {
		Ids    []*big.Int
		Values []*big.Int
	}
	if err := erc1155ABI.UnpackIntoInterface(&ev, "TransferBatch", log.Data); err != nil {
		return mints, err
	}
	if len(ev.Ids) != len(ev.Values) {
		return mints, nil
	}
	// Batch indices are 1-based by position, so replaying the same log always
	// reproduces the same sub-event identities.
	for i := range ev.Ids {
		mints = t.appendERC1155(log, mints, out, i+1, ev.Ids[i], ev.Values[i])
	}
	return mints, nil
}

func (t *TokenTransfers) appendERC1155(log domain.Log, mints []mintUnit, out *domain.OnChainData, batchIndex int, tokenID, amount *big.Int) []mintUnit {
	from := topicAddress(log.Topics[2])
	to := topicAddress(log.Topics[3])
	base := baseParams(log, batchIndex)

	out.Transfers = append(out.Transfers, domain.TransferEvent{
		Kind:     domain.TransferERC1155,
		From:     from,
		To:       to,
		Contract: base.Address,
		TokenID:  tokenID.String(),
		Amount:   amount,
		Base:     base,
	})

	if from == zeroAddress {
		out.Mints = append(out.Mints, domain.MintInfo{
			Contract: base.Address,
			TokenID:  tokenID.String(),
			Amount:   amount,
			MintedAt: log.Timestamp,
			Base:     base,
		})
		mints = append(mints, mintUnit{
			contract: base.Address,
			tokenID:  tokenID.String(),
			to:       to,
			amount:   amount,
			base:     base,
		})
	}
	return mints
}
