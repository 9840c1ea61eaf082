package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/homelink/internal/protocol"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn)
		if !hub.Register(client) {
			conn.Close()
			return
		}
		go client.WritePump()
		go client.ReadPump()
	}))

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_ConnectedThenStatus(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)

	assert.Equal(t, MessageTypeConnected, readMessage(t, conn).Type)
	require.Eventually(t, func() bool { return hub.GetOnlineCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.PublishStatus([]protocol.StatusEntry{{ID: 0, Status: "on"}})

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeStatus, msg.Type)
	assert.JSONEq(t, `[{"id":0,"status":"on"}]`, string(msg.Data))
}

func TestHub_NewClientGetsLastStatus(t *testing.T) {
	hub, srv := startHub(t)
	hub.PublishStatus([]protocol.StatusEntry{{ID: 2, Status: "off"}})

	conn := dial(t, srv)
	assert.Equal(t, MessageTypeConnected, readMessage(t, conn).Type)

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeStatus, msg.Type)
	assert.JSONEq(t, `[{"id":2,"status":"off"}]`, string(msg.Data))
}

func TestClient_Requests(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeGetStatus}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type, "尚无状态")

	hub.PublishStatus([]protocol.StatusEntry{{ID: 1, Status: "on"}})
	assert.Equal(t, MessageTypeStatus, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeGetStatus}))
	assert.Equal(t, MessageTypeStatus, readMessage(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg = readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
	var body map[string]string
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, "消息格式错误", body["error"])
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return hub.GetOnlineCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.GetOnlineCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_RegisterAfterStop(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(ctx)

	assert.False(t, hub.Register(&Client{ID: "late", Hub: hub, Send: make(chan []byte, 1)}))
	hub.Unregister(&Client{ID: "late"})
}
