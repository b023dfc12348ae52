package dxlink

import "encoding/json"

// ConnState is the connection's handshake state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthPending
	StateAuthorized
	StateChannelOpen
	StateFeedReady
)

// String returns the state name for logs.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthPending:
		return "auth_pending"
	case StateAuthorized:
		return "authorized"
	case StateChannelOpen:
		return "channel_open"
	case StateFeedReady:
		return "feed_ready"
	}
	return "unknown"
}

const (
	// protocolVersion is sent in the SETUP frame.
	protocolVersion = "0.1-DXF-JS/0.3.0"

	// keepaliveTimeoutSec is the keepalive timeout negotiated with the server.
	keepaliveTimeoutSec = 60

	// feedAggregationPeriod is the accepted quote aggregation period in seconds.
	feedAggregationPeriod = 0.1
)

// inboundFrame is the envelope of every server frame.
type inboundFrame struct {
	Type    string          `json:"type"`
	Channel int             `json:"channel"`
	State   string          `json:"state,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type setupFrame struct {
	Type                   string `json:"type"`
	Channel                int    `json:"channel"`
	Version                string `json:"version"`
	KeepaliveTimeout       int    `json:"keepaliveTimeout"`
	AcceptKeepaliveTimeout int    `json:"acceptKeepaliveTimeout"`
}

type authFrame struct {
	Type    string `json:"type"`
	Channel int    `json:"channel"`
	Token   string `json:"token"`
}

type channelRequestFrame struct {
	Type       string            `json:"type"`
	Channel    int               `json:"channel"`
	Service    string            `json:"service"`
	Parameters channelParameters `json:"parameters"`
}

type channelParameters struct {
	Contract string `json:"contract"`
}

type feedSetupFrame struct {
	Type                    string              `json:"type"`
	Channel                 int                 `json:"channel"`
	AcceptAggregationPeriod float64             `json:"acceptAggregationPeriod"`
	AcceptDataFormat        string              `json:"acceptDataFormat"`
	AcceptEventFields       map[string][]string `json:"acceptEventFields"`
}

// SubscriptionItem names one event type + symbol pair in a FEED_SUBSCRIPTION.
type SubscriptionItem struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type feedSubscriptionFrame struct {
	Type    string             `json:"type"`
	Channel int                `json:"channel"`
	Reset   bool               `json:"reset"`
	Add     []SubscriptionItem `json:"add"`
}

type keepaliveFrame struct {
	Type    string `json:"type"`
	Channel int    `json:"channel"`
}

// acceptEventFields lists the compact-format field order requested for each
// event type. The decoder depends on this ordering.
func acceptEventFields() map[string][]string {
	return map[string][]string{
		"Quote":  {"eventType", "eventSymbol", "bidPrice", "askPrice", "bidSize", "askSize"},
		"Greeks": {"eventType", "eventSymbol", "volatility", "delta", "gamma", "theta", "rho", "vega"},
	}
}
