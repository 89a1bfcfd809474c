package archive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MegrimInc/RedisMicroService-sub000/internal/model"
)

func TestPersistOrder_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/orders" {
			t.Fatalf("path = %s, want /api/orders", r.URL.Path)
		}

		var order model.Order
		if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if order.BarID != 5 || order.UserID != 12 || order.Status != model.OrderStatusDelivered {
			t.Fatalf("unexpected order payload: %+v", order)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(persistResponse{Success: true}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.PersistOrder(ctx, &model.Order{BarID: 5, UserID: 12, Status: model.OrderStatusDelivered})
	if err != nil {
		t.Fatalf("PersistOrder error: %v", err)
	}
}

func TestPersistOrder_Rejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(persistResponse{Success: false, Message: "validation failed"}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.PersistOrder(ctx, &model.Order{BarID: 5, UserID: 12})
	if err == nil {
		t.Fatalf("expected error when archive rejects the order")
	}
}

func TestPersistOrder_UnexpectedStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := client.PersistOrder(ctx, &model.Order{BarID: 5, UserID: 12})
	if err == nil {
		t.Fatalf("expected error for non-200 status")
	}
}

func TestPersistOrder_NotConfigured(t *testing.T) {
	var client *Client

	err := client.PersistOrder(context.Background(), &model.Order{})
	if err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
