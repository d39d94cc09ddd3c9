package mempool

import (
	"testing"
)

func TestClassifyRaw(t *testing.T) {
	tests := []struct {
		name     string
		tx       string
		expected Class
	}{
		{"make", `{"type":"makeOrder","payload":{},"signature":"0x1234"}`, ClassMake},
		{"cancel", `{"type":"cancelOrder","payload":{"orderId":"1"},"signature":"0xabcd"}`, ClassCancel},
		{"fill", `{"type":"fillOrder","payload":{"orderId":"1"},"signature":"0xabcd"}`, ClassFill},
		{"deposit", `{"type":"depositETH","payload":{"amount":"1"},"signature":"0xabcd"}`, ClassFunding},
		{"approve", `{"type":"approve","payload":{},"signature":"0xabcd"}`, ClassFunding},
		{"invalid JSON", `{"invalid": "json"`, ClassFunding},
		{"non-JSON", "UNKNOWN:foo", ClassFunding},
		{"empty transaction", "", ClassFunding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyRaw([]byte(tt.tx))
			if got != tt.expected {
				t.Errorf("ClassifyRaw() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMempool_Ordering(t *testing.T) {
	m := NewMempool()

	fill1 := `{"type":"fillOrder","payload":{"orderId":"1"},"signature":"0x1111"}`
	make1 := `{"type":"makeOrder","payload":{"amountGet":"1"},"signature":"0x2222"}`
	cancel1 := `{"type":"cancelOrder","payload":{"orderId":"2"},"signature":"0x3333"}`
	deposit1 := `{"type":"depositETH","payload":{"amount":"1"},"signature":"0x4444"}`
	make2 := `{"type":"makeOrder","payload":{"amountGet":"2"},"signature":"0x5555"}`
	fill2 := `{"type":"fillOrder","payload":{"orderId":"3"},"signature":"0x6666"}`

	for _, tx := range []string{fill1, make1, cancel1, deposit1, make2, fill2} {
		m.PushRaw([]byte(tx))
	}

	txs := m.SelectForProposal(10000)
	expectOrder := []string{deposit1, make1, make2, cancel1, fill1, fill2}
	if len(txs) != len(expectOrder) {
		t.Fatalf("expected %d txs, got %d", len(expectOrder), len(txs))
	}
	for i, expected := range expectOrder {
		if string(txs[i]) != expected {
			t.Errorf("tx[%d] mismatch\ngot:  %q\nwant: %q", i, string(txs[i]), expected)
		}
	}
	if m.Len() != 0 {
		t.Errorf("expected empty mempool, got %d", m.Len())
	}
}

func TestMempool_MaxBytes(t *testing.T) {
	m := NewMempool()

	m.PushRaw([]byte("N:1"))
	m.PushRaw([]byte("N:2"))
	m.PushRaw([]byte("N:3"))

	txs := m.SelectForProposal(6)
	if len(txs) != 2 {
		t.Errorf("expected 2 txs with maxBytes=6, got %d", len(txs))
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 tx remaining, got %d", m.Len())
	}
}

func TestMempool_PushCopies(t *testing.T) {
	m := NewMempool()
	b := []byte(`{"type":"fillOrder"}`)
	if c := m.PushRaw(b); c != ClassFill {
		t.Fatalf("class = %v", c)
	}
	b[2] = 'X'
	if got := m.SelectForProposal(0); string(got[0]) != `{"type":"fillOrder"}` {
		t.Errorf("queued tx aliased caller buffer: %q", got[0])
	}
}
