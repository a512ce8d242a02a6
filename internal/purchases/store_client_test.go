package purchases

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/habituals/internal/dataerr"
	"github.com/MarcoPoloResearchLab/habituals/internal/httpclient"
)

func TestStoreClientClassifiesClaimFailures(t *testing.T) {
	testCases := []struct {
		status int
		body   string
		want   dataerr.Code
	}{
		{status: http.StatusConflict, body: "cap exceeded", want: dataerr.CodeCapExceeded},
		{status: http.StatusNotFound, body: "purchase not found", want: dataerr.CodePurchaseNotFound},
		{status: http.StatusBadRequest, body: "sku not claimable", want: dataerr.CodeInvalidSKU},
		{status: http.StatusInternalServerError, body: "internal error", want: dataerr.CodeNetworkError},
	}
	for _, testCase := range testCases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/claim" || r.Method != http.MethodPost {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			w.WriteHeader(testCase.status)
			_, _ = w.Write([]byte(testCase.body))
		}))
		client, err := httpclient.New(httpclient.Config{BaseURL: server.URL})
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		_, err = NewStoreClient(client).Claim(context.Background(), SKUStreakshield, "tx-1")
		server.Close()
		if code := dataerr.CodeOf(err); code != testCase.want {
			t.Fatalf("status %d: expected %s, got %s (%v)", testCase.status, testCase.want, code, err)
		}
	}
}

func TestStoreClientDecodesWallet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user_id":"user-1","streakshield_count":2,"xp_booster_until":null}`))
	}))
	defer server.Close()

	client, err := httpclient.New(httpclient.Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	wallet, err := NewStoreClient(client).Claim(context.Background(), SKUStreakshield, "tx-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if wallet.UserID != "user-1" || wallet.StreakshieldCount != 2 || wallet.XPBoosterUntil != nil {
		t.Fatalf("unexpected wallet %+v", wallet)
	}

	if _, err := NewStoreClient(client).Claim(context.Background(), "", "tx-1"); dataerr.CodeOf(err) != dataerr.CodeInvalidSKU {
		t.Fatalf("expected local validation failure, got %v", err)
	}
}
