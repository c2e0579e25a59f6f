package dummy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func roundTrip(t *testing.T, c *websocket.Conn, msg string) string {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(msg)))
	_, got, err := c.ReadMessage()
	require.NoError(t, err)
	return string(got)
}

func TestHandler_Echo(t *testing.T) {
	srv := httptest.NewServer(Handler(ServerConfig{}))
	defer srv.Close()

	c := dial(t, srv, "/ws")
	assert.Equal(t, "5", roundTrip(t, c, "5"))
	assert.Equal(t, `{"messageId":1}`, roundTrip(t, c, `{"messageId":1}`))
}

func TestHandler_Code(t *testing.T) {
	srv := httptest.NewServer(Handler(ServerConfig{}))
	defer srv.Close()

	c := dial(t, srv, "/ws/code")
	assert.Equal(t, "hello: 13", roundTrip(t, c, `{"msg":"hello","code":13}`))
	assert.Equal(t, "Invalid message format", roundTrip(t, c, "not json"))
}

func TestHandler_DropEvery(t *testing.T) {
	srv := httptest.NewServer(Handler(ServerConfig{DropEvery: 2}))
	defer srv.Close()

	c := dial(t, srv, "/ws")
	for _, m := range []string{"1", "2", "3"} {
		require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(m)))
	}
	_, first, err := c.ReadMessage()
	require.NoError(t, err)
	_, second, err := c.ReadMessage()
	require.NoError(t, err)

	assert.Equal(t, "1", string(first))
	assert.Equal(t, "3", string(second))
}

func TestHandler_RequireUser(t *testing.T) {
	srv := httptest.NewServer(Handler(ServerConfig{RequireUser: true}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	c, _, err := websocket.DefaultDialer.Dial(url+"?userId=1", nil)
	require.NoError(t, err)
	c.Close()
}
