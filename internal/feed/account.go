package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/optionloop/tastybot/internal/domain"
)

// sessionRetryDelay is the wait applied when no valid session token exists;
// dialing the account stream without one would only be rejected.
const sessionRetryDelay = 60 * time.Second

// SessionSource exposes the current REST session token, when one exists.
type SessionSource interface {
	SessionToken() (string, bool)
}

type accountConnectFrame struct {
	Action    string   `json:"action"`
	Value     []string `json:"value"`
	AuthToken string   `json:"auth-token"`
}

type accountHeartbeatFrame struct {
	Action    string `json:"action"`
	AuthToken string `json:"auth-token"`
}

// AccountFeed supervises the account-data websocket: it subscribes to order
// and position events for the configured accounts and reconnects forever.
// Unlike the market-data stream it authenticates with the REST session token
// and will not dial until one is available.
type AccountFeed struct {
	url      string
	session  SessionSource
	accounts []string
	logger   *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewAccountFeed creates the supervised account-data worker.
func NewAccountFeed(url string, session SessionSource, accounts []string, logger *slog.Logger) *AccountFeed {
	return &AccountFeed{
		url:      url,
		session:  session,
		accounts: accounts,
		logger:   logger.With(slog.String("component", "account_feed")),
	}
}

// Connected reports whether the account stream is currently attached.
func (f *AccountFeed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn != nil
}

// Run connects and reconnects until ctx is cancelled.
func (f *AccountFeed) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		token, ok := f.session.SessionToken()
		if !ok {
			f.logger.Warn("no session token, account stream waiting",
				slog.Duration("retry_in", sessionRetryDelay),
			)
			if err := sleep(ctx, sessionRetryDelay); err != nil {
				return err
			}
			continue
		}

		err := f.runConnection(ctx, token)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("account stream closed, reconnecting",
			slog.Duration("retry_in", reconnectDelay),
			slog.String("error", err.Error()),
		)
		if err := sleep(ctx, reconnectDelay); err != nil {
			return err
		}
	}
}

func (f *AccountFeed) runConnection(ctx context.Context, token string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer f.dropConn()

	connect := accountConnectFrame{
		Action:    "connect",
		Value:     f.accounts,
		AuthToken: token,
	}
	if err := f.writeJSON(connect); err != nil {
		return err
	}
	f.logger.Info("account stream connected", slog.Int("accounts", len(f.accounts)))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(data)
	}
}

// handleMessage logs account notifications. Order status remains driven by
// coordinator polling; the stream is informational.
func (f *AccountFeed) handleMessage(raw []byte) {
	var msg struct {
		Action string `json:"action"`
		Status string `json:"status"`
		Type   string `json:"type"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.logger.Warn("invalid account message dropped", slog.String("error", err.Error()))
		return
	}
	f.logger.Debug("account event",
		slog.String("action", msg.Action),
		slog.String("status", msg.Status),
		slog.String("type", msg.Type),
	)
}

// SendHeartbeat sends the application-level heartbeat frame. A write failure
// drops the connection so the reconnect loop engages.
func (f *AccountFeed) SendHeartbeat() error {
	f.mu.Lock()
	conn := f.conn
	token, ok := f.session.SessionToken()
	f.mu.Unlock()

	if conn == nil {
		return domain.ErrNotConnected
	}
	if !ok {
		return domain.ErrNotLoggedIn
	}

	hb := accountHeartbeatFrame{Action: "heartbeat", AuthToken: token}
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		f.dropConn()
		return err
	}
	return nil
}

func (f *AccountFeed) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (f *AccountFeed) dropConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}
