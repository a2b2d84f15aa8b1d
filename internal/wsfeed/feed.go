// Package wsfeed manages the two WebSocket channels the market maker
// consumes: a public market-data feed (book/price/trade-price updates, keyed
// by token id) and an authenticated user feed (our own fills and order
// lifecycle events, keyed by condition id).
//
// Both feeds share the same connection/reconnect/dispatch machinery; only
// the subscription payload and the set of event types routed differ.
package wsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"rewards-mm/internal/exchange"
	"rewards-mm/pkg/types"
)

const (
	pingInterval     = 10 * time.Second // spec keep-alive cadence
	readTimeout      = 90 * time.Second // ~9 missed pings before we give up on the conn
	writeTimeout     = 10 * time.Second
	midpointSpreadCap = 0.10 // beyond this spread (in price units, i.e. 10 cents), fall back to last trade price

	initialReconnectWait = 1 * time.Second
	maxReconnectWait      = 30 * time.Second
	reconnectJitter        = 0.10

	eventBufferSize = 256
	tradeBufferSize = 64
)

// MidpointUpdate is the computed reference price for a single token,
// emitted whenever a book, price-change, best-bid-ask, or trade-price
// message could have moved it.
type MidpointUpdate struct {
	AssetID   string
	Midpoint  float64
	Timestamp time.Time
}

// Feed manages a single WebSocket connection (market or user channel),
// reconnecting with jittered exponential backoff and re-subscribing to all
// tracked ids on every reopen.
type Feed struct {
	url         string
	channelType string // "market" or "user"
	auth        *exchange.Auth

	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	bestMu  sync.Mutex
	bestBid map[string]float64
	bestAsk map[string]float64

	midpointCh chan MidpointUpdate
	tradeCh    chan types.WSTradeEvent
	orderCh    chan types.WSOrderEvent
	statusCh   chan bool

	logger *slog.Logger
}

// NewMarketFeed creates a feed for the public market-data channel.
func NewMarketFeed(wsURL string, logger *slog.Logger) *Feed {
	return &Feed{
		url:         wsURL,
		channelType: "market",
		subscribed:  make(map[string]bool),
		bestBid:     make(map[string]float64),
		bestAsk:     make(map[string]float64),
		midpointCh:  make(chan MidpointUpdate, eventBufferSize),
		tradeCh:     make(chan types.WSTradeEvent, tradeBufferSize),
		orderCh:     make(chan types.WSOrderEvent, tradeBufferSize),
		statusCh:    make(chan bool, 4),
		logger:      logger.With("component", "ws_market"),
	}
}

// NewUserFeed creates a feed for the authenticated user channel.
func NewUserFeed(wsURL string, auth *exchange.Auth, logger *slog.Logger) *Feed {
	return &Feed{
		url:         wsURL,
		auth:        auth,
		channelType: "user",
		subscribed:  make(map[string]bool),
		bestBid:     make(map[string]float64),
		bestAsk:     make(map[string]float64),
		midpointCh:  make(chan MidpointUpdate, eventBufferSize),
		tradeCh:     make(chan types.WSTradeEvent, tradeBufferSize),
		orderCh:     make(chan types.WSOrderEvent, tradeBufferSize),
		statusCh:    make(chan bool, 4),
		logger:      logger.With("component", "ws_user"),
	}
}

// MidpointUpdates returns a read-only channel of computed midpoint updates
// (market channel only — the user channel never populates it).
func (f *Feed) MidpointUpdates() <-chan MidpointUpdate { return f.midpointCh }

// TradeEvents returns a read-only channel of fill notifications (user channel).
func (f *Feed) TradeEvents() <-chan types.WSTradeEvent { return f.tradeCh }

// OrderEvents returns a read-only channel of order lifecycle events (user channel).
func (f *Feed) OrderEvents() <-chan types.WSOrderEvent { return f.orderCh }

// Connected reports connect (true) / disconnect (false) transitions, so a
// consumer can start fallback REST polling the moment the feed drops and
// stop it the moment a reconnect completes.
func (f *Feed) Connected() <-chan bool { return f.statusCh }

func (f *Feed) emitStatus(connected bool) {
	select {
	case f.statusCh <- connected:
	default:
	}
}

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialReconnectWait
	b.MaxInterval = maxReconnectWait
	b.RandomizationFactor = reconnectJitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0 // retry forever; the orchestrator owns the outer lifetime via ctx

	for {
		err := f.connectAndRead(ctx)
		f.emitStatus(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := b.NextBackOff()
		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "wait", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Subscribe adds token ids (market channel) or condition ids (user channel)
// to the live subscription and pushes the update if connected.
func (f *Feed) Subscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	msg := types.WSUpdateMsg{Operation: "subscribe"}
	if f.channelType == "market" {
		msg.AssetIDs = ids
	} else {
		msg.Markets = ids
	}
	return f.writeJSON(msg)
}

// Unsubscribe removes ids from the subscription.
func (f *Feed) Unsubscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		delete(f.subscribed, id)
	}
	f.subscribedMu.Unlock()

	msg := types.WSUpdateMsg{Operation: "unsubscribe"}
	if f.channelType == "market" {
		msg.AssetIDs = ids
	} else {
		msg.Markets = ids
	}
	return f.writeJSON(msg)
}

// Close gracefully closes the connection.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("websocket connected", "channel", f.channelType)
	f.emitStatus(true)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatchMessage(msg)
	}
}

func (f *Feed) sendSubscription() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	if f.channelType == "market" {
		return f.writeJSON(types.WSSubscribeMsg{Type: "market", AssetIDs: ids})
	}
	return f.writeJSON(types.WSSubscribeMsg{Type: "user", Auth: f.auth.WSAuthPayload(), Markets: ids})
}

func (f *Feed) dispatchMessage(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		// Plain-text PONG replies and other non-JSON frames land here.
		return
	}

	switch envelope.EventType {
	case "book":
		var evt types.WSBookEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal book event", "error", err)
			return
		}
		f.updateFromBook(evt)

	case "price_change":
		var evt types.WSPriceChangeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal price_change event", "error", err)
			return
		}
		f.updateFromPriceChange(evt)

	case "best_bid_ask":
		var evt types.WSBestBidAskEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal best_bid_ask event", "error", err)
			return
		}
		f.updateFromBestBidAsk(evt)

	case "last_trade_price":
		var evt types.WSLastTradePriceEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal last_trade_price event", "error", err)
			return
		}
		f.updateFromLastTrade(evt)

	case "trade":
		var evt types.WSTradeEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal trade event", "error", err)
			return
		}
		select {
		case f.tradeCh <- evt:
		default:
			f.logger.Warn("trade channel full, dropping event", "id", evt.ID)
		}

	case "order":
		var evt types.WSOrderEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal order event", "error", err)
			return
		}
		select {
		case f.orderCh <- evt:
		default:
			f.logger.Warn("order channel full, dropping event", "id", evt.ID)
		}

	case "tick_size_change", "new_market", "market_resolved":
		f.logger.Debug("ignoring event", "type", envelope.EventType)

	default:
		f.logger.Debug("unknown ws event type", "type", envelope.EventType)
	}
}

func (f *Feed) updateFromBook(evt types.WSBookEvent) {
	if len(evt.Buys) == 0 || len(evt.Sells) == 0 {
		return
	}
	bid, err1 := strconv.ParseFloat(evt.Buys[0].Price, 64)
	ask, err2 := strconv.ParseFloat(evt.Sells[0].Price, 64)
	if err1 != nil || err2 != nil {
		return
	}
	f.setBestAndEmit(evt.AssetID, bid, ask)
}

func (f *Feed) updateFromPriceChange(evt types.WSPriceChangeEvent) {
	for _, change := range evt.PriceChanges {
		bid, err1 := strconv.ParseFloat(change.BestBid, 64)
		ask, err2 := strconv.ParseFloat(change.BestAsk, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		f.setBestAndEmit(change.AssetID, bid, ask)
	}
}

func (f *Feed) updateFromBestBidAsk(evt types.WSBestBidAskEvent) {
	bid, err1 := strconv.ParseFloat(evt.BestBid, 64)
	ask, err2 := strconv.ParseFloat(evt.BestAsk, 64)
	if err1 != nil || err2 != nil {
		return
	}
	f.setBestAndEmit(evt.AssetID, bid, ask)
}

// setBestAndEmit caches the new best bid/ask and publishes a midpoint
// update: (bid+ask)/2 when the spread is tight (<= 10 cents), otherwise the
// cached last-trade price if one exists — the book alone is not a reliable
// reference in a wide, thin market.
func (f *Feed) setBestAndEmit(assetID string, bid, ask float64) {
	f.bestMu.Lock()
	f.bestBid[assetID] = bid
	f.bestAsk[assetID] = ask
	f.bestMu.Unlock()

	if ask-bid > midpointSpreadCap {
		return
	}
	f.emitMidpoint(assetID, (bid+ask)/2)
}

func (f *Feed) updateFromLastTrade(evt types.WSLastTradePriceEvent) {
	price, err := strconv.ParseFloat(evt.Price, 64)
	if err != nil {
		return
	}

	f.bestMu.Lock()
	bid, hasBid := f.bestBid[evt.AssetID]
	ask, hasAsk := f.bestAsk[evt.AssetID]
	f.bestMu.Unlock()

	if hasBid && hasAsk && ask-bid <= midpointSpreadCap {
		// Book is still tight enough to prefer; ignore the trade print.
		return
	}
	f.emitMidpoint(evt.AssetID, price)
}

func (f *Feed) emitMidpoint(assetID string, mid float64) {
	select {
	case f.midpointCh <- MidpointUpdate{AssetID: assetID, Midpoint: mid, Timestamp: time.Now()}:
	default:
		f.logger.Warn("midpoint channel full, dropping update", "asset", assetID)
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
