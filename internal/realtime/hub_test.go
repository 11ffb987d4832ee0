package realtime

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/coviewhq/coview/internal/collab"
)

func newTestServer(t *testing.T) (*httptest.Server, *collab.Store) {
	t.Helper()

	store := collab.NewStore()
	registry := collab.NewRegistry()
	cursorLimiter := collab.NewSlidingWindowLimiter(time.Second, 30)
	commandLimiter := collab.NewSlidingWindowLimiter(time.Second, 10)
	router := collab.NewRouter(store, registry, cursorLimiter, commandLimiter, nil)

	hub := NewHub(router)
	server := httptest.NewServer(http.HandlerFunc(hub.Serve))
	t.Cleanup(server.Close)

	return server, store
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	socket, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = socket.Close() })

	return socket
}

func readEvent(t *testing.T, socket *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, socket.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := socket.ReadMessage()
	require.NoError(t, err)

	var event map[string]any
	require.NoError(t, json.Unmarshal(payload, &event))
	return event
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()

	store := collab.NewStore()
	registry := collab.NewRegistry()
	cursorLimiter := collab.NewSlidingWindowLimiter(time.Second, 30)
	commandLimiter := collab.NewSlidingWindowLimiter(time.Second, 10)
	return NewHub(collab.NewRouter(store, registry, cursorLimiter, commandLimiter, nil))
}

// newServerSocket yields the server side of a live websocket without
// running the hub's loops, so connection internals can be driven directly.
func newServerSocket(t *testing.T) *websocket.Conn {
	t.Helper()

	socketCh := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		socketCh <- socket
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case socket := <-socketCh:
		t.Cleanup(func() { _ = socket.Close() })
		return socket
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the server-side socket")
		return nil
	}
}

func TestConnection_SendAfterCloseReturnsClosed(t *testing.T) {
	conn := newConnection(newTestHub(t), newServerSocket(t))
	conn.close()

	// A broadcast landing after teardown must fail cleanly, not panic.
	require.NotPanics(t, func() {
		require.ErrorIs(t, conn.Send(collab.Event{Type: "participantLeft"}), net.ErrClosed)
	})
}

func TestConnection_ConcurrentSendAndClose(t *testing.T) {
	conn := newConnection(newTestHub(t), newServerSocket(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = conn.Send(collab.Event{Type: "chatMessage"})
			}
		}()
	}

	conn.close()
	wg.Wait()

	require.ErrorIs(t, conn.Send(collab.Event{Type: "chatMessage"}), net.ErrClosed)
}

func TestHub_WelcomeOnConnect(t *testing.T) {
	server, _ := newTestServer(t)
	socket := dial(t, server)

	event := readEvent(t, socket)
	require.Equal(t, "welcome", event["type"])

	data, ok := event["data"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, collab.ProtocolVersion, data["protocolVersion"])
}

func TestHub_CreateSessionRoundTrip(t *testing.T) {
	server, store := newTestServer(t)
	socket := dial(t, server)

	readEvent(t, socket) // welcome

	require.NoError(t, socket.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"createSession","name":"Demo","hostName":"Alice"}`)))

	event := readEvent(t, socket)
	require.Equal(t, "sessionCreated", event["type"])

	data, ok := event["data"].(map[string]any)
	require.True(t, ok)
	session, ok := data["session"].(map[string]any)
	require.True(t, ok)
	require.NotEmpty(t, session["id"])
	require.Len(t, session["inviteCode"], 6)

	require.Equal(t, 1, store.SessionCount())
}

func TestHub_DisconnectRunsLeave(t *testing.T) {
	server, store := newTestServer(t)
	socket := dial(t, server)

	readEvent(t, socket) // welcome

	require.NoError(t, socket.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"createSession","name":"Demo","hostName":"Alice"}`)))
	readEvent(t, socket) // sessionCreated

	require.NoError(t, socket.Close())

	// The sole participant disconnecting tears the session down.
	require.Eventually(t, func() bool {
		return store.SessionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_RejectsCrossOrigin(t *testing.T) {
	server, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{"Origin": []string{"http://evil.example.com"}}

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHub_AllowsLoopbackOrigin(t *testing.T) {
	server, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{"Origin": []string{"http://localhost:3000"}}

	socket, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer socket.Close()

	event := readEvent(t, socket)
	require.Equal(t, "welcome", event["type"])
}
