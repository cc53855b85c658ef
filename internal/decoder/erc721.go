package decoder

import (
	"math/big"

	"github.com/alanyoungcy/nftindexer/internal/domain"
)

var erc721ABI = mustABI(`[
	{"anonymous":false,"name":"Transfer","type":"event","inputs":[
		{"indexed":true,"name":"from","type":"address"},
		{"indexed":true,"name":"to","type":"address"},
		{"indexed":true,"name":"tokenId","type":"uint256"}]},
	{"anonymous":false,"name":"ApprovalForAll","type":"event","inputs":[
		{"indexed":true,"name":"owner","type":"address"},
		{"indexed":true,"name":"operator","type":"address"},
		{"indexed":false,"name":"approved","type":"bool"}]}
]`)

var (
	topicERC721Transfer  = erc721ABI.Events["Transfer"].ID
	topicERC721SetForAll = erc721ABI.Events["ApprovalForAll"].ID
)

func (t *TokenTransfers) decodeERC721Transfer(log domain.Log, mints []mintUnit, out *domain.OnChainData) []mintUnit {
	from := topicAddress(log.Topics[1])
	to := topicAddress(log.Topics[2])
	tokenID := topicBig(log.Topics[3]).String()
	base := baseParams(log, 1)
	one := big.NewInt(1)

	out.Transfers = append(out.Transfers, domain.TransferEvent{
		Kind:     domain.TransferERC721,
		From:     from,
		To:       to,
		Contract: base.Address,
		TokenID:  tokenID,
		Amount:   one,
		Base:     base,
	})

	if from == zeroAddress {
		out.Mints = append(out.Mints, domain.MintInfo{
			Contract: base.Address,
			TokenID:  tokenID,
			Amount:   one,
			MintedAt: log.Timestamp,
			Base:     base,
		})
		mints = append(mints, mintUnit{
			contract: base.Address,
			tokenID:  tokenID,
			to:       to,
			amount:   one,
			base:     base,
		})
	}
	return mints
}

func (t *TokenTransfers) decodeApprovalForAll(log domain.Log, out *domain.OnChainData) error {
	var ev struct {
		Approved bool
	}
	if err := erc721ABI.UnpackIntoInterface(&ev, "ApprovalForAll", log.Data); err != nil {
		return err
	}
	base := baseParams(log, 1)
	out.Orders = append(out.Orders, domain.OrderTrigger{
		Kind:     domain.TriggerApprovalChange,
		Maker:    topicAddress(log.Topics[1]),
		Contract: base.Address,
		Approved: ev.Approved,
		Base:     base,
	})
	return nil
}
