package adapter

import (
	"context"
	"time"

	"nhooyr.io/websocket"
)

// WSProbe opens a short-lived WebSocket connection to url, waits for the
// handshake to complete, sends a ping and waits for its pong, and closes
// cleanly. It is used instead of a REST probe for vendors (Binance, Bybit)
// that offer a public market-stream WebSocket; every call dials a new
// connection.
func WSProbe(ctx context.Context, url string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "probe complete")

	// Ping only completes while something reads the connection.
	conn.CloseRead(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Ping(pingCtx)
}

const (
	// BinanceFuturesWSURL is the public combined-stream endpoint used for
	// WSProbe health checks; it requires no subscription to exercise the
	// handshake and ping round trip.
	BinanceFuturesWSURL = "wss://fstream.binance.com/ws"
	// BybitPublicWSURL is Bybit's v5 linear public stream endpoint.
	BybitPublicWSURL = "wss://stream.bybit.com/v5/public/linear"
)
