package api

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// ExchangeInfo is the exchange's static configuration plus chain status
type ExchangeInfo struct {
	Address    string      `json:"address"`
	FeeAccount string      `json:"feeAccount"`
	FeePercent uint64      `json:"feePercent"`
	OrderCount uint64      `json:"orderCount"`
	Tokens     []TokenInfo `json:"tokens"`
	Chain      ChainStatus `json:"chain"`
}

// TokenInfo describes one registered token
type TokenInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"totalSupply"` // decimal
	Custody     string `json:"custody"`     // held by the exchange
	Owed        string `json:"owed"`        // sum of ledger balances
}

// ChainStatus is the last committed block as seen by the application
type ChainStatus struct {
	Height      int64  `json:"height"`
	Time        int64  `json:"time"` // unix seconds
	AppHash     string `json:"appHash"`
	MempoolSize int    `json:"mempoolSize"`
}

// BalanceInfo is one exchange ledger balance
type BalanceInfo struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Balance string `json:"balance"` // decimal
}

// WalletInfo is an account's holdings on the external ledgers
type WalletInfo struct {
	Owner  string            `json:"owner"`
	Native string            `json:"native"`
	Tokens map[string]string `json:"tokens"` // token address → balance
}

// OrderInfo is an order with its derived status
type OrderInfo struct {
	ID         uint64 `json:"id"`
	Creator    string `json:"creator"`
	AssetGet   string `json:"assetGet"`
	AmountGet  string `json:"amountGet"`
	AssetGive  string `json:"assetGive"`
	AmountGive string `json:"amountGive"`
	CreatedAt  int64  `json:"createdAt"`
	Status     string `json:"status"` // "open" | "filled" | "cancelled"
}

// NonceInfo is the nonce an account must sign next
type NonceInfo struct {
	Owner string `json:"owner"`
	Next  uint64 `json:"next"`
}

// BlockInfo summarizes a committed block
type BlockInfo struct {
	Height  uint64 `json:"height"`
	Hash    string `json:"hash"`
	Parent  string `json:"parent"`
	Time    int64  `json:"time"`
	Txs     int    `json:"txs"`
	AppHash string `json:"appHash"`
}

// SubmitTxResponse is the response from transaction submission
type SubmitTxResponse struct {
	Status  string `json:"status"`  // "submitted"
	Receipt string `json:"receipt"` // opaque id for log correlation
	Class   string `json:"class"`   // mempool lane
	Sender  string `json:"sender"`
	Nonce   uint64 `json:"nonce"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is a client subscription request
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"` // "events" or "events:<address>"
}

// EventUpdate is broadcast for every committed notification
type EventUpdate struct {
	Type    string `json:"type"` // "event"
	Channel string `json:"channel"`
	Height  int64  `json:"height"`
	Index   int    `json:"index"`
	Event   string `json:"event"`
	Data    any    `json:"data"`
}
