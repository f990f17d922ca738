package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PortfolioLens/internal/model"
)

func TestSendWithRetry_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		got.Store(payload)
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "", nil)
	n.APIURL = srv.URL
	n.Backoff = time.Millisecond

	require.NoError(t, n.SendWithRetry(context.Background(), "hello", 3))
	assert.Equal(t, int32(3), calls.Load())
	payload := got.Load().(map[string]any)
	assert.Equal(t, "42", payload["chat_id"])
	assert.Equal(t, "HTML", payload["parse_mode"])
}

func TestSendWithRetry_ServerErrorsExhaustAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"ok":false,"error_code":500,"description":"Internal Server Error"}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "", nil)
	n.APIURL = srv.URL
	n.Backoff = time.Millisecond

	err := n.SendWithRetry(context.Background(), "hello", 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendWithRetry_PermanentErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "", nil)
	n.APIURL = srv.URL
	n.Backoff = time.Millisecond

	err := n.SendWithRetry(context.Background(), "hello", 3)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Code)
	assert.Equal(t, "Unauthorized", apiErr.Description)
	assert.False(t, apiErr.Temporary())
	assert.Equal(t, int32(1), calls.Load())
}

func TestAPIError_RetryAfterIsParsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":7}}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "", nil)
	n.APIURL = srv.URL

	err := n.Send(context.Background(), "hello")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Temporary())
	assert.Equal(t, 7*time.Second, apiErr.RetryAfter)
}

func TestSend_SplitsLongMessages(t *testing.T) {
	var (
		mu    sync.Mutex
		texts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		mu.Lock()
		texts = append(texts, payload["text"].(string))
		mu.Unlock()
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "", nil)
	n.APIURL = srv.URL

	line := strings.Repeat("é", 50) + "\n"
	text := strings.Repeat(line, 100)
	require.NoError(t, n.Send(context.Background(), text))

	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, len(texts), 1)
	assert.Equal(t, text, strings.Join(texts, ""))
	for _, part := range texts {
		assert.LessOrEqual(t, len(part), MaxMessageLen)
		assert.True(t, utf8.ValidString(part))
	}
}

func TestSplitMessage_HardCutsOversizedLine(t *testing.T) {
	parts := splitMessage("ab\n"+strings.Repeat("x", 10), 4)
	assert.Equal(t, []string{"ab\n", "xxxx", "xxxx", "xx"}, parts)
}

func TestPoll_DispatchesCommandsFromConfiguredChat(t *testing.T) {
	var (
		mu      sync.Mutex
		replies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bottoken/getUpdates":
			var params map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
			assert.Equal(t, 7.0, params["offset"])
			w.Write([]byte(`{"ok":true,"result":[
			  {"update_id":7,"message":{"text":" /price AAPL ","chat":{"id":42}}},
			  {"update_id":8},
			  {"update_id":9,"message":{"text":"/summary","chat":{"id":666}}},
			  {"update_id":10,"message":{"text":"hello","chat":{"id":42}}},
			  {"update_id":11,"message":{"text":"/noop","chat":{"id":42}}}]}`))
		case "/bottoken/sendMessage":
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			mu.Lock()
			replies = append(replies, payload["text"].(string))
			mu.Unlock()
			w.Write([]byte(`{"ok":true,"result":{}}`))
		}
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "", nil)
	n.APIURL = srv.URL

	var commands []string
	next, err := n.poll(context.Background(), srv.Client(), 7, func(_ context.Context, cmd string) string {
		commands = append(commands, cmd)
		if cmd == "/noop" {
			return ""
		}
		return "reply to " + cmd
	})
	require.NoError(t, err)
	assert.Equal(t, 12, next)
	assert.Equal(t, []string{"/price AAPL", "/noop"}, commands)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"reply to /price AAPL"}, replies)
}

func TestPoll_APIFailureKeepsOffset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"ok":false,"error_code":409,"description":"Conflict: terminated by other getUpdates request"}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("token", "42", "", nil)
	n.APIURL = srv.URL

	next, err := n.poll(context.Background(), srv.Client(), 5, func(context.Context, string) string { return "" })
	require.Error(t, err)
	assert.Equal(t, 5, next)
}

func TestFormatDigest(t *testing.T) {
	taken := time.Date(2025, 3, 14, 22, 0, 0, 0, time.UTC)
	rows := []model.TagSummaryRow{
		{Tag: "R&D", MarketValue: 1100, UnrealizedPL: 100, IntradayPct: model.Float(0.918)},
	}
	out := FormatDigest(taken, model.Summary{TotalMarketValue: 1100, TotalUnrealizedPL: 100}, rows, &model.Summary{TotalMarketValue: 1000})

	assert.Contains(t, out, "2025-03-14")
	assert.Contains(t, out, "Market value: 1100.00")
	assert.Contains(t, out, "Since last snapshot: +100.00 (+10.00%)")
	assert.Contains(t, out, "R&amp;D")
	assert.Contains(t, out, "day +0.92%")
	assert.Contains(t, out, "10d n/a")
}

func TestFormatQuote(t *testing.T) {
	assert.Contains(t, FormatQuote("NOPE", model.EmptyPrice()), "no data")

	e := model.PriceEntry{Current: 110, LongName: model.String("Acme"), Currency: model.String("EUR")}.WithPreviousClose(model.Float(100))
	out := FormatQuote("ACME", e)
	assert.Contains(t, out, "Acme (ACME)")
	assert.Contains(t, out, "Price: 110.00 EUR")
	assert.Contains(t, out, "Day: +10.00%")
}

func TestFormatTrendAndStatus(t *testing.T) {
	ts := model.Timeseries{
		Total: []model.Point{{Date: "2025-03-01", Value: 100}, {Date: "2025-03-14", Value: 150}},
		Tags:  map[string][]model.Point{"Tech": {{Date: "2025-03-01", Value: 50}, {Date: "2025-03-14", Value: 40}}},
	}
	out := FormatTrend(ts)
	assert.Contains(t, out, "Total: 100.00 → 150.00 (+50.00%)")
	assert.Contains(t, out, "Tech: 50.00 → 40.00 (-20.00%)")
	assert.Contains(t, FormatTrend(model.Timeseries{}), "No history")

	until := time.Date(2025, 3, 14, 12, 15, 0, 0, time.UTC)
	assert.Contains(t, FormatStatus(3, 1, map[string]time.Time{"yahoo": until}), "yahoo rate limited until 12:15:00")
	assert.Contains(t, FormatStatus(0, 0, nil), "All providers available")
}

func TestSplitMessage_ContinuationBytesStillAdvance(t *testing.T) {
	junk := strings.Repeat("\x80", 10)
	parts := splitMessage(junk, 4)
	assert.Equal(t, []string{"\x80\x80\x80\x80", "\x80\x80\x80\x80", "\x80\x80"}, parts)
}
