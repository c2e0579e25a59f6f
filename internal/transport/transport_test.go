package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			kind, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			if err := c.WriteMessage(kind, msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSDialer_RoundTrip(t *testing.T) {
	srv := echoServer(t)

	conn, err := WSDialer{HandshakeTimeout: time.Second}.Dial(context.Background(), wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Ping())
	require.NoError(t, conn.WriteMessage([]byte("17")))
	got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "17", string(got))

	require.NoError(t, conn.WriteClose(CloseNormal, ""))
	_, err = conn.ReadMessage()
	assert.True(t, IsNormalClose(err), "got %v", err)
}

func TestWSDialer_Refused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := WSDialer{HandshakeTimeout: time.Second}.Dial(context.Background(), wsURL(srv), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
