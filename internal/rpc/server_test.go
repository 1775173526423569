package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/ragpatterns/internal/domain/snapshot"
	"github.com/sawpanic/ragpatterns/internal/embed"
	"github.com/sawpanic/ragpatterns/internal/retrieval"
	"github.com/sawpanic/ragpatterns/internal/vectorindex"
)

// newTestServer seeds a Memory index with the first two snapshots (P1, P2)
// from spec.md §8 scenario S1 and starts a Server on an ephemeral loopback
// port.
func newTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ctx := context.Background()
	idx := vectorindex.NewMemory()
	require.NoError(t, idx.EnsureCollection(ctx, "patterns", 384))
	embedder := embed.NewDeterministic(384)

	seed := []snapshot.Snapshot{
		{Symbol: "BTCUSDT", TimestampMs: 1_725_552_000_000, Price: 100, RSI7: 82.1, RSI14: 75, MACD: 68.4, EMA20: 100, EMA20_4h: 101, EMA50_4h: 100,
			OpenInterestAvg24h: 1000, OpenInterestLatest: 1042, FundingRate: 0.00015, Outcome4h: f64(-2.3)},
		{Symbol: "BTCUSDT", TimestampMs: 1_724_342_400_000, Price: 100, RSI7: 84.3, RSI14: 76, MACD: 71.2, EMA20: 100, EMA20_4h: 101, EMA50_4h: 100,
			OpenInterestAvg24h: 1000, OpenInterestLatest: 1051, FundingRate: 0.00012, Outcome4h: f64(1.1)},
	}
	var points []vectorindex.Point
	for _, s := range seed {
		text := snapshot.RenderText(s)
		vec, err := embedder.EmbedBatch(ctx, []string{text})
		require.NoError(t, err)
		points = append(points, vectorindex.Point{ID: vectorindex.PointID(s.Symbol, s.TimestampMs), Vector: vec[0], Snapshot: s, Text: text})
	}
	require.NoError(t, idx.Upsert(ctx, "patterns", points))

	engine := &retrieval.Engine{Embedder: embedder, Index: idx, Collection: "patterns", MinMatches: 1}
	handler := &Handler{Engine: engine, Config: DefaultHandlerConfig()}

	cfg := DefaultServerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = "0"

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, "0"))
	require.NoError(t, err)
	addr = ln.Addr().String()
	ln.Close()

	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	cfg.Port = port

	srv := NewServer(cfg, handler, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go srv.ListenAndServe(ctx)
	time.Sleep(50 * time.Millisecond) // let the listener come up

	return addr, cancel
}

func f64(v float64) *float64 { return &v }

type rpcLine struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method,omitempty"`
	Params  interface{}     `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func sendRaw(t *testing.T, addr string, raw string) rpcLine {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "%s\n", raw)
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var parsed rpcLine
	require.NoError(t, json.Unmarshal([]byte(line), &parsed))
	return parsed
}

func TestServer_UnknownMethod(t *testing.T) {
	addr, stop := newTestServer(t)
	defer stop()

	resp := sendRaw(t, addr, `{"jsonrpc":"2.0","id":1,"method":"rag.noSuch","params":{}}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestServer_MissingRequiredParam(t *testing.T) {
	addr, stop := newTestServer(t)
	defer stop()

	params := map[string]interface{}{
		"symbol":    "BTCUSDT",
		"timestamp": 1_730_811_225_000,
		"current_state": map[string]interface{}{
			"price": 100, "rsi_7": 83.6, "rsi_14": 78, "macd": 72.8, "ema_20": 100,
			// ema_20_4h deliberately omitted
			"ema_50_4h": 100, "funding_rate": 0.0001,
			"open_interest_latest": 1060, "open_interest_avg_24h": 1000,
		},
	}
	body, err := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": "rag.query_patterns", "params": params})
	require.NoError(t, err)

	resp := sendRaw(t, addr, string(body))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
	data, ok := resp.Error.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "current_state.ema_20_4h", data["field"])
}

func TestServer_MalformedJSON(t *testing.T) {
	addr, stop := newTestServer(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "%s\n", `{not json`)
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var parsed rpcLine
	require.NoError(t, json.Unmarshal([]byte(line), &parsed))
	require.NotNil(t, parsed.Error)
	assert.Equal(t, CodeParseError, parsed.Error.Code)
	assert.Nil(t, parsed.ID)

	// connection remains open: a second, valid line still gets a response.
	_, err = fmt.Fprintf(conn, "%s\n", `{"jsonrpc":"2.0","id":2,"method":"rag.noSuch","params":{}}`)
	require.NoError(t, err)
	line2, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	var parsed2 rpcLine
	require.NoError(t, json.Unmarshal([]byte(line2), &parsed2))
	require.NotNil(t, parsed2.Error)
	assert.Equal(t, CodeMethodNotFound, parsed2.Error.Code)
}

func TestServer_QueryPatternsHappyPath(t *testing.T) {
	addr, stop := newTestServer(t)
	defer stop()

	params := map[string]interface{}{
		"symbol":    "BTCUSDT",
		"timestamp": 1_730_811_225_000,
		"current_state": map[string]interface{}{
			"price": 100, "rsi_7": 83.6, "rsi_14": 78, "macd": 72.8, "ema_20": 100,
			"ema_20_4h": 101, "ema_50_4h": 100, "funding_rate": 0.0001,
			"open_interest_latest": 1060, "open_interest_avg_24h": 1000,
		},
		"query_config": map[string]interface{}{
			"top_k": 5, "min_similarity": 0.0, "include_regime_filters": false,
		},
	}
	body, err := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": "q1", "method": "rag.query_patterns", "params": params})
	require.NoError(t, err)

	resp := sendRaw(t, addr, string(body))
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)

	var result queryPatternsResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, 2, result.Statistics.TotalMatches)
	assert.Equal(t, "q1", resp.ID)
}

// TestServer_ConcurrentClientsGetMatchingIDs approximates spec.md §8 S6 at
// a smaller scale to keep the test fast: several concurrent connections
// each fire several sequential requests and every response must carry
// back its own connection's request id.
func TestServer_ConcurrentClientsGetMatchingIDs(t *testing.T) {
	addr, stop := newTestServer(t)
	defer stop()

	const clients = 8
	const perClient = 6

	var wg sync.WaitGroup
	errs := make(chan error, clients)

	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				errs <- err
				return
			}
			defer conn.Close()
			r := bufio.NewReader(conn)

			for i := 0; i < perClient; i++ {
				id := clientID*1000 + i
				req := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"rag.noSuch","params":{}}`, id)
				if _, err := fmt.Fprintf(conn, "%s\n", req); err != nil {
					errs <- err
					return
				}
				line, err := r.ReadString('\n')
				if err != nil {
					errs <- err
					return
				}
				var parsed rpcLine
				if err := json.Unmarshal([]byte(line), &parsed); err != nil {
					errs <- err
					return
				}
				gotID, ok := parsed.ID.(float64)
				if !ok || int(gotID) != id {
					errs <- fmt.Errorf("client %d request %d: got id %v", clientID, i, parsed.ID)
					return
				}
			}
		}(c)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
