package dummy

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type ServerConfig struct {
	Port int

	// Delay is added before every reply, plus up to Jitter more.
	Delay  time.Duration
	Jitter time.Duration

	// DropEvery silently drops every Nth message on a connection.
	DropEvery int

	// RequireUser rejects upgrades without a userId query parameter.
	RequireUser bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type message struct {
	Msg  string `json:"msg"`
	Code int    `json:"code"`
}

// Handler serves the dummy endpoints:
//
//	/ws        echoes every message
//	/ws/code   answers {"msg","code"} with "msg: code"
//	/ws/silent accepts messages and never answers
func Handler(cfg ServerConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", serve(cfg, func(in []byte) []byte { return in }))

	mux.HandleFunc("/ws/code", serve(cfg, func(in []byte) []byte {
		var m message
		if err := json.Unmarshal(in, &m); err != nil {
			return []byte("Invalid message format")
		}
		return []byte(fmt.Sprintf("%s: %d", m.Msg, m.Code))
	}))

	mux.HandleFunc("/ws/silent", serve(cfg, func([]byte) []byte { return nil }))

	return mux
}

func serve(cfg ServerConfig, reply func([]byte) []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.RequireUser && r.URL.Query().Get("userId") == "" {
			http.Error(w, "userId required", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := 0
		for {
			kind, in, err := conn.ReadMessage()
			if err != nil {
				return
			}

			n++
			if cfg.DropEvery > 0 && n%cfg.DropEvery == 0 {
				continue
			}

			out := reply(in)
			if out == nil {
				continue
			}

			if d := cfg.Delay + jitter(cfg.Jitter); d > 0 {
				time.Sleep(d)
			}
			if err := conn.WriteMessage(kind, out); err != nil {
				return
			}
		}
	}
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// Start runs the dummy server in the background.
func Start(cfg ServerConfig) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.Port)
	fmt.Printf("👻 Dummy Server running on ws://localhost%s\n", addr)
	fmt.Println("   Endpoints: /ws (echo), /ws/code (msg: code), /ws/silent")

	server := &http.Server{
		Addr:    addr,
		Handler: Handler(cfg),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Server failed: %v\n", err)
		}
	}()
	return server
}
