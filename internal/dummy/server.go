package dummy

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"boundq/internal/logger"
)

type ServerConfig struct {
	Port int
	// Scale multiplies every artificial delay. Tests set it to 0.
	Scale float64
}

type server struct {
	scale    float64
	upgrader websocket.Upgrader
}

// Handler returns the target mux. It is shared by the dummy command and by tests.
func Handler(cfg ServerConfig) http.Handler {
	s := &server{
		scale:    cfg.Scale,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	mux := http.NewServeMux()

	// Fast Endpoint (10-50ms)
	mux.HandleFunc("/fast", func(w http.ResponseWriter, r *http.Request) {
		s.sleep(time.Duration(rand.Intn(40)+10) * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Fast response"))
	})

	// Slow Endpoint (1s-2s), good for timeouts and queuing
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(s.scaled(time.Duration(rand.Intn(1000)+1000) * time.Millisecond)):
		case <-r.Context().Done():
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Slow response"))
	})

	mux.HandleFunc("/error", func(w http.ResponseWriter, r *http.Request) {
		rnd := rand.Float32()
		if rnd < 0.2 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("500 Internal Server Error"))
		} else if rnd < 0.4 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("429 Too Many Requests"))
		} else {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		}
	})

	// /flaky?fail=0.05 fails the given share of requests with 503
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		fail, err := strconv.ParseFloat(r.URL.Query().Get("fail"), 64)
		if err != nil {
			fail = 0.05
		}
		s.sleep(time.Duration(rand.Intn(20)+5) * time.Millisecond)
		if rand.Float64() < fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/v2/public/test", func(w http.ResponseWriter, r *http.Request) {
		s.rpc(w, map[string]string{"version": "1.2.26"})
	})
	mux.HandleFunc("/api/v2/public/get_time", func(w http.ResponseWriter, r *http.Request) {
		s.rpc(w, time.Now().UnixMilli())
	})
	mux.HandleFunc("/api/v2/public/get_instruments", func(w http.ResponseWriter, r *http.Request) {
		currency := r.URL.Query().Get("currency")
		if currency == "" {
			currency = "BTC"
		}
		s.rpc(w, []map[string]any{
			{"instrument_name": currency + "-PERPETUAL", "kind": "future", "is_active": true},
			{"instrument_name": currency + "-27DEC24", "kind": "future", "is_active": true},
		})
	})
	mux.HandleFunc("/api/v2/public/ticker", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("instrument_name")
		if name != "BTC-PERPETUAL" && name != "ETH-PERPETUAL" {
			s.rpcError(w, 10001, "instrument_not_found")
			return
		}
		s.rpc(w, map[string]any{
			"instrument_name": name,
			"last_price":      64000 + rand.Float64()*100,
			"mark_price":      64000 + rand.Float64()*100,
			"timestamp":       time.Now().UnixMilli(),
		})
	})
	mux.HandleFunc("/api/v2/public/get_order_book", func(w http.ResponseWriter, r *http.Request) {
		depth, err := strconv.Atoi(r.URL.Query().Get("depth"))
		if err != nil || depth <= 0 {
			depth = 5
		}
		bids := make([][2]float64, depth)
		asks := make([][2]float64, depth)
		for i := range depth {
			bids[i] = [2]float64{64000 - float64(i), 10}
			asks[i] = [2]float64{64001 + float64(i), 10}
		}
		s.rpc(w, map[string]any{
			"instrument_name": r.URL.Query().Get("instrument_name"),
			"bids":            bids,
			"asks":            asks,
		})
	})

	mux.HandleFunc("/ws", s.echo)

	return mux
}

// Start serves Handler on cfg.Port in the background.
func Start(cfg ServerConfig) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: Handler(cfg),
	}

	logger.Info("dummy server listening", "addr", "http://localhost"+addr,
		"endpoints", "/fast /slow /error /flaky /health /api/v2/public/* /ws")

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("dummy server failed", err)
		}
	}()
	return server
}

func (s *server) echo(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, msg); err != nil {
			return
		}
	}
}

func (s *server) scaled(d time.Duration) time.Duration {
	return time.Duration(float64(d) * s.scale)
}

func (s *server) sleep(d time.Duration) {
	if d = s.scaled(d); d > 0 {
		time.Sleep(d)
	}
}

func (s *server) rpc(w http.ResponseWriter, result any) {
	s.sleep(time.Duration(rand.Intn(10)+2) * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]any{
		"jsonrpc": "2.0",
		"result":  result,
		"usIn":    time.Now().UnixMicro(),
	})
}

func (s *server) rpcError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"jsonrpc": "2.0",
		"error":   map[string]any{"code": code, "message": msg},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
