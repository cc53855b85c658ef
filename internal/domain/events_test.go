package domain

import "testing"

func TestEventOrdinalAfter(t *testing.T) {
	tests := []struct {
		name string
		a, b EventOrdinal
		want bool
	}{
		{
			name: "newer timestamp wins",
			a:    EventOrdinal{Timestamp: 200, BlockNumber: 1},
			b:    EventOrdinal{Timestamp: 100, BlockNumber: 9},
			want: true,
		},
		{
			name: "older timestamp loses despite higher block",
			a:    EventOrdinal{Timestamp: 100, BlockNumber: 9},
			b:    EventOrdinal{Timestamp: 200, BlockNumber: 1},
			want: false,
		},
		{
			name: "timestamp tie broken by block number",
			a:    EventOrdinal{Timestamp: 100, BlockNumber: 5},
			b:    EventOrdinal{Timestamp: 100, BlockNumber: 4},
			want: true,
		},
		{
			name: "block tie broken by log index",
			a:    EventOrdinal{Timestamp: 100, BlockNumber: 5, LogIndex: 3},
			b:    EventOrdinal{Timestamp: 100, BlockNumber: 5, LogIndex: 2},
			want: true,
		},
		{
			name: "log tie broken by batch index",
			a:    EventOrdinal{Timestamp: 100, BlockNumber: 5, LogIndex: 3, BatchIndex: 2},
			b:    EventOrdinal{Timestamp: 100, BlockNumber: 5, LogIndex: 3, BatchIndex: 1},
			want: true,
		},
		{
			name: "equal ordinals are not after each other",
			a:    EventOrdinal{Timestamp: 100, BlockNumber: 5, LogIndex: 3, BatchIndex: 1},
			b:    EventOrdinal{Timestamp: 100, BlockNumber: 5, LogIndex: 3, BatchIndex: 1},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.After(tt.b); got != tt.want {
				t.Fatalf("After() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBaseEventParamsOrdinal(t *testing.T) {
	p := BaseEventParams{Timestamp: 7, BlockNumber: 8, LogIndex: 9, BatchIndex: 2}
	ord := p.Ordinal()
	if ord.Timestamp != 7 || ord.BlockNumber != 8 || ord.LogIndex != 9 || ord.BatchIndex != 2 {
		t.Fatalf("Ordinal() = %+v", ord)
	}
}

func TestOnChainDataMergePreservesOrder(t *testing.T) {
	a := NewOnChainData()
	a.Fills = []FillEvent{{OrderID: "a1"}, {OrderID: "a2"}}
	a.Transfers = []TransferEvent{{TokenID: "1"}}

	b := NewOnChainData()
	b.Fills = []FillEvent{{OrderID: "b1"}}
	b.Cancels = []CancelEvent{{OrderID: "c1"}}

	a.Merge(b)
	a.Merge(nil)

	if len(a.Fills) != 3 || a.Fills[0].OrderID != "a1" || a.Fills[2].OrderID != "b1" {
		t.Fatalf("merged fills out of order: %+v", a.Fills)
	}
	if len(a.Cancels) != 1 || len(a.Transfers) != 1 {
		t.Fatalf("merged cancels/transfers = %d/%d", len(a.Cancels), len(a.Transfers))
	}
}

func TestOnChainDataEmpty(t *testing.T) {
	d := NewOnChainData()
	if !d.Empty() {
		t.Fatalf("fresh accumulator should be empty")
	}
	d.Mints = append(d.Mints, MintInfo{TokenID: "1"})
	if d.Empty() {
		t.Fatalf("accumulator with a mint should not be empty")
	}
}
