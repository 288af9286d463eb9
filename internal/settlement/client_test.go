package settlement

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Write([]byte(`{"data": "success"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	res, err := client.Disburse(context.Background(), Request{WalletID: "w1", Amount: 100, Reference: "ref"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got rejection: %s", res.Detail)
	}
}

func TestHTTPClientRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data": "declined"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	res, err := client.Disburse(context.Background(), Request{WalletID: "w1", Amount: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected rejection")
	}
	if res.Detail != `{"data": "declined"}` {
		t.Fatalf("expected raw body in detail, got %q", res.Detail)
	}
}

func TestHTTPClientNonJSONBodyIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, time.Second)
	res, err := client.Disburse(context.Background(), Request{WalletID: "w1", Amount: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected rejection")
	}
}

func TestHTTPClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"data": "success"}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, 20*time.Millisecond)
	if _, err := client.Disburse(context.Background(), Request{WalletID: "w1", Amount: 100}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestStaticClientApproves(t *testing.T) {
	res, err := StaticClient{}.Disburse(context.Background(), Request{WalletID: "w1", Amount: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatal("expected approval")
	}
}
