package api

// REST response types and WebSocket messages.

// AssetInfo is a listed asset.
type AssetInfo struct {
	ID       uint32 `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// PairInfo is a listed pair with its asset symbols resolved.
type PairInfo struct {
	ID          uint32 `json:"id"`
	Base        uint32 `json:"base"`
	Quote       uint32 `json:"quote"`
	BaseSymbol  string `json:"baseSymbol"`
	QuoteSymbol string `json:"quoteSymbol"`
	MinVolume   uint64 `json:"minVolume"` // 0 uses the exchange limit
	MaxVolume   uint64 `json:"maxVolume"`
}

// OrderbookSnapshot is aggregated depth at a block height.
type OrderbookSnapshot struct {
	Pair   uint32       `json:"pair"`
	Bids   []PriceLevel `json:"bids"` // high to low
	Asks   []PriceLevel `json:"asks"` // low to high
	Height int64        `json:"height"`
}

type PriceLevel struct {
	Price  uint64 `json:"price"`
	Size   uint64 `json:"size"`
	Orders int    `json:"orders"`
}

type TradeInfo struct {
	ID        uint64 `json:"id"`
	Seq       uint64 `json:"seq"`
	Pair      uint32 `json:"pair"`
	Price     uint64 `json:"price"`
	Size      uint64 `json:"size"`
	Side      string `json:"side"` // taker side
	BuyOrder  uint64 `json:"buyOrder"`
	SellOrder uint64 `json:"sellOrder"`
}

type OrderInfo struct {
	ID        uint64 `json:"id"`
	Owner     string `json:"owner"`
	Pair      uint32 `json:"pair"`
	Side      string `json:"side"`
	Kind      string `json:"kind"` // "spot", "margin", "liquidation"
	Price     uint64 `json:"price"`
	Quantity  uint64 `json:"quantity"`
	Filled    uint64 `json:"filled"`
	Remaining uint64 `json:"remaining"`
	Reserved  uint64 `json:"reserved"`
	Status    string `json:"status"` // "open", "partially_filled", "filled", "cancelled"
}

// MarginAccountInfo is an account's collateral, debt and health.
type MarginAccountInfo struct {
	Address    string         `json:"address"`
	Collateral uint64         `json:"collateral"`
	Borrowed   uint64         `json:"borrowed"` // includes open order reservations
	Reserved   uint64         `json:"reserved"`
	Interest   uint64         `json:"interest"`
	State      string         `json:"state"`
	Ratio      string         `json:"ratio,omitempty"` // debt / capacity
	Capacity   string         `json:"capacity"`
	Nonce      uint64         `json:"nonce"`
	Positions  []PositionInfo `json:"positions"`
}

type PositionInfo struct {
	Pair     uint32 `json:"pair"`
	Side     string `json:"side"`
	Size     uint64 `json:"size"`
	Borrowed uint64 `json:"borrowed"`
}

// ConfigInfo carries ratios as decimal strings.
type ConfigInfo struct {
	Owner            string `json:"owner"`
	MinVolume        uint64 `json:"minVolume"`
	MaxVolume        uint64 `json:"maxVolume"`
	MarginMultiplier string `json:"marginMultiplier"`
	InterestRate     string `json:"interestRate"`
	CompoundEvery    uint64 `json:"compoundEvery"`
	MaxDeposit       uint64 `json:"maxDeposit"`
	Paused           bool   `json:"paused"`
}

type ChainStatus struct {
	Height      int64  `json:"height"`
	Seq         uint64 `json:"seq"`
	MempoolSize int    `json:"mempoolSize"`
	Paused      bool   `json:"paused"`
}

// SubmitTxResponse acknowledges admission to the mempool. The transaction
// is applied, or rejected, when a block includes it.
type SubmitTxResponse struct {
	Status string `json:"status"` // "accepted"
	Type   string `json:"type"`
	Owner  string `json:"owner"`
	Nonce  uint64 `json:"nonce"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Group   string `json:"group,omitempty"`
}

// WSMessage is the envelope of every server-sent WebSocket message.
type WSMessage struct {
	Type    string      `json:"type"` // "event", "subscribed", "unsubscribed", "error"
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// WSSubscribeRequest is sent by clients.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["pair:1", "account:0x...", "exchange", "events"]
}
