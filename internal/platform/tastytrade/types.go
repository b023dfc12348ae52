package tastytrade

import "encoding/json"

type sessionRequest struct {
	Login      string `json:"login"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember-me"`
}

type sessionResponse struct {
	Data struct {
		SessionToken string `json:"session-token"`
	} `json:"data"`
}

type customerResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type accountsResponse struct {
	Data struct {
		Items []struct {
			Account struct {
				AccountNumber string `json:"account-number"`
				AccountType   string `json:"account-type-name"`
			} `json:"account"`
		} `json:"items"`
	} `json:"data"`
}

type quoteTokenResponse struct {
	Data struct {
		Token     string `json:"token"`
		DxlinkURL string `json:"dxlink-url"`
	} `json:"data"`
}

// Position is one open position row.
type Position struct {
	Symbol           string `json:"symbol"`
	InstrumentType   string `json:"instrument-type"`
	UnderlyingSymbol string `json:"underlying-symbol"`
	Quantity         string `json:"quantity"`
	Direction        string `json:"quantity-direction"`
}

type positionsResponse struct {
	Data struct {
		Items []Position `json:"items"`
	} `json:"data"`
}

type optionInfoResponse struct {
	Data struct {
		StreamerSymbol string `json:"streamer-symbol"`
	} `json:"data"`
}

type orderLeg struct {
	InstrumentType string `json:"instrument-type"`
	Symbol         string `json:"symbol"`
	Quantity       int    `json:"quantity"`
	Action         string `json:"action"`
}

type orderRequest struct {
	Source      string     `json:"source,omitempty"`
	OrderType   string     `json:"order-type"`
	TimeInForce string     `json:"time-in-force"`
	Price       *float64   `json:"price,omitempty"`
	PriceEffect string     `json:"price-effect,omitempty"`
	Legs        []orderLeg `json:"legs,omitempty"`
}

type orderResponse struct {
	Data struct {
		Order struct {
			ID     json.Number `json:"id"`
			Status string      `json:"status"`
		} `json:"order"`
	} `json:"data"`
}

type nestedChainResponse struct {
	Data struct {
		Items []struct {
			Expirations []struct {
				ExpirationDate string `json:"expiration-date"`
				Strikes        []struct {
					StrikePrice        string `json:"strike-price"`
					Call               string `json:"call"`
					CallStreamerSymbol string `json:"call-streamer-symbol"`
					Put                string `json:"put"`
					PutStreamerSymbol  string `json:"put-streamer-symbol"`
				} `json:"strikes"`
			} `json:"expirations"`
		} `json:"items"`
	} `json:"data"`
}
