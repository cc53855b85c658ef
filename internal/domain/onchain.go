package domain

// OnChainData accumulates every canonical sub-event decoded from one block
// batch. Each typed list is an ordered sequence: discovery order (transaction
// order within the block, then log index, then batch index) is preserved and
// the reconciler consumes the lists in that order.
//
// Decoders running concurrently each fill their own instance; a single merge
// step concatenates them in a fixed protocol-priority order, so no locking is
// needed during the decode phase.
type OnChainData struct {
	Orders       []OrderTrigger
	Fills        []FillEvent
	Cancels      []CancelEvent
	NonceCancels []NonceCancelEvent
	BulkCancels  []BulkCancelEvent
	Transfers    []TransferEvent
	Mints        []MintInfo
}

// NewOnChainData returns an empty accumulator.
func NewOnChainData() *OnChainData {
	return &OnChainData{}
}

// Merge appends all of other's events after d's, preserving order within
// each list.
func (d *OnChainData) Merge(other *OnChainData) {
	if other == nil {
		return
	}
	d.Orders = append(d.Orders, other.Orders...)
	d.Fills = append(d.Fills, other.Fills...)
	d.Cancels = append(d.Cancels, other.Cancels...)
	d.NonceCancels = append(d.NonceCancels, other.NonceCancels...)
	d.BulkCancels = append(d.BulkCancels, other.BulkCancels...)
	d.Transfers = append(d.Transfers, other.Transfers...)
	d.Mints = append(d.Mints, other.Mints...)
}

// Empty reports whether no events were accumulated.
func (d *OnChainData) Empty() bool {
	return len(d.Orders) == 0 && len(d.Fills) == 0 && len(d.Cancels) == 0 &&
		len(d.NonceCancels) == 0 && len(d.BulkCancels) == 0 &&
		len(d.Transfers) == 0 && len(d.Mints) == 0
}
