package hyperliquid

// metaResponse is the POST /info {"type":"meta"} payload: the perp universe
// in asset-index order.
type metaResponse struct {
	Universe []struct {
		Name       string `json:"name"`
		SzDecimals int    `json:"szDecimals"`
		IsDelisted bool   `json:"isDelisted,omitempty"`
	} `json:"universe"`
}

// clearinghouseState is the account summary returned for
// {"type":"clearinghouseState","user":...}.
type clearinghouseState struct {
	MarginSummary struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
	Withdrawable   string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin           string `json:"coin"`
			Szi            string `json:"szi"` // signed size, negative = short
			EntryPx        string `json:"entryPx"`
			UnrealizedPnl  string `json:"unrealizedPnl"`
			Leverage       struct {
				Value int `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
}

// openOrder is one entry of {"type":"frontendOpenOrders","user":...}.
type openOrder struct {
	Oid  int64  `json:"oid"`
	Coin string `json:"coin"`
}

// orderFill is one entry of {"type":"userFills","user":...}.
type orderFill struct {
	Oid  int64  `json:"oid"`
	Coin string `json:"coin"`
}

// exchangeRequest is the signed POST /exchange body.
type exchangeRequest struct {
	Action    any       `json:"action"`
	Nonce     int64     `json:"nonce"`
	Signature signature `json:"signature"`
}

type signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

// orderAction places one or more orders.
type orderAction struct {
	Type     string      `json:"type"` // "order"
	Orders   []orderWire `json:"orders"`
	Grouping string      `json:"grouping"` // "na"
}

// orderWire is the compact order encoding the exchange endpoint expects.
type orderWire struct {
	Asset      int       `json:"a"`
	IsBuy      bool      `json:"b"`
	Price      string    `json:"p"`
	Size       string    `json:"s"`
	ReduceOnly bool      `json:"r"`
	Kind       orderKind `json:"t"`
}

type orderKind struct {
	Limit   *limitKind   `json:"limit,omitempty"`
	Trigger *triggerKind `json:"trigger,omitempty"`
}

type limitKind struct {
	Tif string `json:"tif"` // "Gtc" / "Ioc"
}

type triggerKind struct {
	TriggerPx string `json:"triggerPx"`
	IsMarket  bool   `json:"isMarket"`
	Tpsl      string `json:"tpsl"` // "tp" / "sl"
}

type cancelAction struct {
	Type    string       `json:"type"` // "cancel"
	Cancels []cancelWire `json:"cancels"`
}

type cancelWire struct {
	Asset int   `json:"a"`
	Oid   int64 `json:"o"`
}

type leverageAction struct {
	Type     string `json:"type"` // "updateLeverage"
	Asset    int    `json:"asset"`
	IsCross  bool   `json:"isCross"`
	Leverage int    `json:"leverage"`
}

// exchangeResponse is the /exchange result envelope.
type exchangeResponse struct {
	Status   string `json:"status"` // "ok" or "err"
	Response struct {
		Data struct {
			Statuses []struct {
				Resting struct {
					Oid int64 `json:"oid"`
				} `json:"resting"`
				Filled struct {
					Oid int64 `json:"oid"`
				} `json:"filled"`
				Error string `json:"error"`
			} `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}
