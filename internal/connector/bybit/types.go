package bybit

// envelope is the common Bybit v5 response wrapper.
type envelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

type walletBalanceResponse struct {
	envelope
	Result struct {
		List []struct {
			TotalEquity     string `json:"totalEquity"`
			TotalAvailable  string `json:"totalAvailableBalance"`
			TotalWalletBal  string `json:"totalWalletBalance"`
			Coin            []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	} `json:"result"`
}

type positionListResponse struct {
	envelope
	Result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"` // "Buy" / "Sell"
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			Leverage      string `json:"leverage"`
			UnrealisedPnl string `json:"unrealisedPnl"`
		} `json:"list"`
	} `json:"result"`
}

type tickersResponse struct {
	envelope
	Result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			MarkPrice string `json:"markPrice"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	} `json:"result"`
}

type instrumentsResponse struct {
	envelope
	Result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Status        string `json:"status"` // "Trading" when live
			LotSizeFilter struct {
				QtyStep          string `json:"qtyStep"`
				MinOrderQty      string `json:"minOrderQty"`
				MinNotionalValue string `json:"minNotionalValue"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	} `json:"result"`
}

type orderCreateResponse struct {
	envelope
	Result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	} `json:"result"`
}

type orderListResponse struct {
	envelope
	Result struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderStatus string `json:"orderStatus"` // "Filled", "New", "Cancelled", ...
		} `json:"list"`
	} `json:"result"`
}

// orderRequest is the body of POST /v5/order/create. All numeric fields are
// strings per the v5 API.
type orderRequest struct {
	Category     string `json:"category"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	Qty          string `json:"qty"`
	Price        string `json:"price,omitempty"`
	TriggerPrice string `json:"triggerPrice,omitempty"`
	// TriggerDirection is 1 for rising, 2 for falling mark price.
	TriggerDirection int    `json:"triggerDirection,omitempty"`
	TimeInForce      string `json:"timeInForce,omitempty"`
	ReduceOnly       bool   `json:"reduceOnly,omitempty"`
}

type setLeverageRequest struct {
	Category     string `json:"category"`
	Symbol       string `json:"symbol"`
	BuyLeverage  string `json:"buyLeverage"`
	SellLeverage string `json:"sellLeverage"`
}

type cancelOrderRequest struct {
	Category string `json:"category"`
	Symbol   string `json:"symbol"`
	OrderID  string `json:"orderId"`
}
