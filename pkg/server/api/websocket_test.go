package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/feedguard/pkg/feedset"
	"github.com/StrathCole/feedguard/pkg/policy"
)

func newWSTest(t *testing.T) (*WebSocketServer, *feedset.Set, string) {
	t.Helper()

	set := newTestSet(t)
	ws := NewWebSocketServer(nil)
	set.Subscribe(ws)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go ws.Run(ctx)

	s := NewServer(":0", set, nil)
	s.SetWebSocketServer(ws, "/ws")
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return ws, set, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func waitForClients(t *testing.T, ws *WebSocketServer, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return ws.ClientCount() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocket_ConfigChange(t *testing.T) {
	ws, set, url := newWSTest(t)
	conn := dial(t, url)
	waitForClients(t, ws, 1)

	_, err := set.SetHeartbeat(context.Background(), "fresh", 120)
	require.NoError(t, err)

	ev := readEvent(t, conn)
	assert.Equal(t, EventConfigChange, ev.Type)
	assert.Equal(t, "fresh", ev.Feed)
	require.NotNil(t, ev.Change)
	assert.Equal(t, policy.FieldHeartbeat, ev.Change.Field)
	assert.Equal(t, "120", ev.Change.New)
}

func TestWebSocket_PriceUpdateSubscription(t *testing.T) {
	ws, _, url := newWSTest(t)
	conn := dial(t, url)
	waitForClients(t, ws, 1)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "subscribe", Feeds: []string{"stale"}}))
	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "ping"}))

	// the pong confirms the subscription was processed
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))

	ws.PublishPrice(feedset.PriceUpdate{Feed: "fresh", Price: big.NewInt(1)})
	ws.PublishPrice(feedset.PriceUpdate{
		Feed:         "stale",
		Price:        big.NewInt(199),
		UsedFallback: true,
		PrimaryStale: true,
		Deviation:    policy.Deviation{WithinThreshold: false, DeviationBps: policy.DeviationUndefined},
	})

	ev := readEvent(t, conn)
	assert.Equal(t, EventPriceUpdate, ev.Type)
	assert.Equal(t, "stale", ev.Feed)
	require.NotNil(t, ev.Price)
	assert.Equal(t, "199", ev.Price.Price)
	assert.True(t, ev.Price.UsedFallback)
	assert.True(t, ev.Price.PrimaryStale)
	assert.Nil(t, ev.Price.DeviationBps)
}

func TestWebSocket_Disconnect(t *testing.T) {
	ws, _, url := newWSTest(t)
	conn := dial(t, url)
	waitForClients(t, ws, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, ws, 0)
}
