package ws

import "testing"

func TestIsSubscribed(t *testing.T) {
	c := &client{subs: map[string]bool{
		"ch:sales":   true,
		"ch:floor:*": true,
	}}

	tests := []struct {
		channel string
		want    bool
	}{
		{"ch:sales", true},
		{"ch:bids", false},
		{"ch:floor:token:0xabc:1", true},
		{"ch:floor:contract:0xdef", true},
		{"ch:floo", false},
	}
	for _, tt := range tests {
		if got := c.isSubscribed(tt.channel); got != tt.want {
			t.Fatalf("isSubscribed(%q) = %v, want %v", tt.channel, got, tt.want)
		}
	}
}

func TestSubscriptionChanges(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:sales": true}}

	c.handleSubscription(subscribeMsg{
		Subscribe:   []string{"ch:bids"},
		Unsubscribe: []string{"ch:sales"},
	})

	if !c.isSubscribed("ch:bids") {
		t.Fatalf("subscribe did not take effect")
	}
	if c.isSubscribed("ch:sales") {
		t.Fatalf("unsubscribe did not take effect")
	}
}
