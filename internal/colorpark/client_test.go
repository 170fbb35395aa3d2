package colorpark

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/kioskd/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.VendorConfig{
		BaseURL: srv.URL,
		Token:   "test-token",
		GoodsID: "4159",
		UserID:  371785,
		Timeout: 5 * time.Second,
	}, zap.NewNop())
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Fatalf("decoding request body: %v", err)
	}
	return body
}

func TestClientSubmitTwoPhase(t *testing.T) {
	var mu sync.Mutex
	var methods []string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("token"); got != "test-token" {
			t.Errorf("expected token header, got %q", got)
		}
		body := decodeBody(t, r)
		method, _ := body["s"].(string)

		mu.Lock()
		methods = append(methods, method)
		mu.Unlock()

		switch method {
		case "Works.save":
			if got := body["machine_id"]; got != "11025496" {
				t.Errorf("Works.save machine_id = %v", got)
			}
			if got := body["goods_id"]; got != "4159" {
				t.Errorf("Works.save goods_id = %v", got)
			}
			components, _ := body["components"].([]interface{})
			if len(components) != 1 {
				t.Errorf("expected 1 component, got %d", len(components))
			}
			w.Write([]byte(`{"code":1,"data":{"id":555}}`))
		case "Order.create":
			if got := body["works_id"]; got != "555" {
				t.Errorf("Order.create works_id = %v", got)
			}
			if got := body["machine_id"]; got != "11025496" {
				t.Errorf("Order.create machine_id = %v", got)
			}
			if got, _ := body["user_id"].(float64); int64(got) != 371785 {
				t.Errorf("Order.create user_id = %v", got)
			}
			w.Write([]byte(`{"code":1,"data":{"id":9001,"order_no":"CP-2026-0042"}}`))
		default:
			t.Errorf("unexpected method %q", method)
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	c := newTestClient(t, handler)
	payload := []byte(`{"image_url":"https://img.example/render.jpeg","width":162.8,"height":150.5}`)

	orderID, err := c.Submit(context.Background(), "11025496", payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if orderID != "CP-2026-0042" {
		t.Fatalf("expected order_no preferred as id, got %q", orderID)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(methods) != 2 || methods[0] != "Works.save" || methods[1] != "Order.create" {
		t.Fatalf("unexpected call sequence: %v", methods)
	}
}

func TestClientSubmitFallsBackToNumericOrderID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		switch body["s"] {
		case "Works.save":
			w.Write([]byte(`{"code":1,"data":{"id":555}}`))
		case "Order.create":
			w.Write([]byte(`{"code":1,"data":{"id":9001}}`))
		}
	})

	c := newTestClient(t, handler)
	orderID, err := c.Submit(context.Background(), "11025496", []byte(`{"image_url":"u","width":10,"height":10}`))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if orderID != "9001" {
		t.Fatalf("expected numeric id as string, got %q", orderID)
	}
}

func TestClientSubmitVendorError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"machine busy"}`))
	})

	c := newTestClient(t, handler)
	_, err := c.Submit(context.Background(), "11025496", []byte(`{"image_url":"u","width":10,"height":10}`))
	if !errors.Is(err, ErrVendorRejected) {
		t.Fatalf("expected ErrVendorRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "machine busy") {
		t.Fatalf("expected vendor message in error, got %v", err)
	}
}

func TestClientSubmitMissingWorksID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":1,"data":{}}`))
	})

	c := newTestClient(t, handler)
	_, err := c.Submit(context.Background(), "11025496", []byte(`{"image_url":"u","width":10,"height":10}`))
	if !errors.Is(err, ErrNoWorksID) {
		t.Fatalf("expected ErrNoWorksID, got %v", err)
	}
}

func TestClientSubmitRejectsBadArtwork(t *testing.T) {
	var mu sync.Mutex
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	c := newTestClient(t, handler)

	cases := []struct {
		name    string
		payload string
	}{
		{"not json", "not-json"},
		{"missing image", `{"width":10,"height":10}`},
		{"missing dimensions", `{"image_url":"u"}`},
	}
	for _, tc := range cases {
		if _, err := c.Submit(context.Background(), "11025496", []byte(tc.payload)); err == nil {
			t.Fatalf("%s: expected an error", tc.name)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("bad artwork must be rejected before any vendor call, got %d calls", calls)
	}
}

func TestClientMachineWait(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if body["s"] != "Machine.wait" {
			t.Errorf("expected Machine.wait, got %v", body["s"])
		}
		if got, _ := body["page"].(float64); got != 1 {
			t.Errorf("expected page 1, got %v", got)
		}
		if got, _ := body["per_page"].(float64); got != 20 {
			t.Errorf("expected per_page 20, got %v", got)
		}
		w.Write([]byte(`{"code":1,"data":{"data":[{"id":1}],"total":1}}`))
	})

	c := newTestClient(t, handler)
	raw, err := c.MachineWait(context.Background(), "11025496", 1, 20)
	if err != nil {
		t.Fatalf("machine wait: %v", err)
	}
	if !strings.Contains(string(raw), `"total":1`) {
		t.Fatalf("expected passthrough payload, got %s", raw)
	}
}

func TestDecodeArtworkDefaults(t *testing.T) {
	art, err := decodeArtwork([]byte(`{"image_url":"u","width":10,"height":20}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if art.Zoom != 1 {
		t.Fatalf("expected default zoom 1, got %v", art.Zoom)
	}
}

func TestBuildComponentGeometry(t *testing.T) {
	comp := buildComponent(Artwork{
		ImageURL: "https://img.example/render.jpeg",
		Width:    100,
		Height:   50,
		Top:      20,
		Left:     -10,
		Zoom:     1,
	})

	if comp.Content != "https://img.example/render.jpeg" {
		t.Fatalf("unexpected content: %s", comp.Content)
	}
	if comp.UpperLeftX != -10 || comp.UpperLeftY != 20 {
		t.Fatalf("unexpected upper left: %v,%v", comp.UpperLeftX, comp.UpperLeftY)
	}
	if comp.UpperRightX != 90 || comp.LowerLeftY != 70 {
		t.Fatalf("unexpected derived corners: %v,%v", comp.UpperRightX, comp.LowerLeftY)
	}
	if comp.CenterX != 40 || comp.CenterY != 45 {
		t.Fatalf("unexpected center: %v,%v", comp.CenterX, comp.CenterY)
	}
	if comp.ImageWidth != 100 || comp.ImageHeight != 50 {
		t.Fatalf("unexpected image box: %v,%v", comp.ImageWidth, comp.ImageHeight)
	}
}
