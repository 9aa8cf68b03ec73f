package fyers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"tradedesk/pkg/broker"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := New(Config{BaseURL: srv.URL, ClientID: "TEST-100", TokenFile: ""})
	c.SetToken("token")
	return c, srv
}

func TestLastPrice(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/quotes" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbols"); got != "NSE:NIFTY50-INDEX" {
			t.Fatalf("symbols=%q", got)
		}
		w.Write([]byte(`{"s":"ok","d":[{"v":{"lp":22514.5}}]}`))
	}))
	defer srv.Close()

	ltp, err := c.LastPrice(context.Background(), "NSE:NIFTY50-INDEX")
	if err != nil {
		t.Fatalf("LastPrice: %v", err)
	}
	if ltp != 22514.5 {
		t.Fatalf("ltp=%v, expected 22514.5", ltp)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		transient bool
		fatal     bool
	}{
		{"rate limited", http.StatusTooManyRequests, true, false},
		{"bad gateway", http.StatusBadGateway, true, false},
		{"unauthorized", http.StatusUnauthorized, false, true},
		{"bad request", http.StatusBadRequest, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := c.LastPrice(context.Background(), "X")
			if err == nil {
				t.Fatal("expected error")
			}
			if broker.Transient(err) != tt.transient {
				t.Fatalf("Transient=%v, expected %v", broker.Transient(err), tt.transient)
			}
			if broker.Fatal(err) != tt.fatal {
				t.Fatalf("Fatal=%v, expected %v", broker.Fatal(err), tt.fatal)
			}
		})
	}
}

func TestAuthInvalidAfter401(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := c.LastPrice(context.Background(), "X"); err == nil {
		t.Fatal("expected auth error")
	}
	// The 401 should poison the cached auth state without another round-trip.
	if c.IsAuthenticated(context.Background()) {
		t.Fatal("IsAuthenticated should be false after a 401")
	}
}

func TestOrderStatusByTag(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"s":"ok","orderBook":[
			{"orderTag":"abc","status":2},
			{"orderTag":"def","status":6}
		]}`))
	}))
	defer srv.Close()

	st, err := c.OrderStatus(context.Background(), "abc")
	if err != nil {
		t.Fatalf("OrderStatus: %v", err)
	}
	if st != broker.StatusFilled {
		t.Fatalf("status=%v, expected FILLED", st)
	}

	st, _ = c.OrderStatus(context.Background(), "def")
	if st != broker.StatusPending {
		t.Fatalf("status=%v, expected PENDING", st)
	}

	st, _ = c.OrderStatus(context.Background(), "missing")
	if st != broker.StatusUnknown {
		t.Fatalf("status=%v, expected UNKNOWN", st)
	}
}
