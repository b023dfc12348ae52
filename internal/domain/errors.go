package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrNotConnected = errors.New("not connected")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidOrder = errors.New("invalid order parameters")
	ErrNoExpiration = errors.New("expiration not found in option chain")
	ErrNoQuoteToken = errors.New("no quote stream token")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrNoPriceData  = errors.New("no price data for symbol")
)
