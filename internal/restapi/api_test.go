package restapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/blockvault/walletd/internal/blockindex"
	"github.com/blockvault/walletd/internal/chainmodel"
	"github.com/blockvault/walletd/internal/chainstore"
	"github.com/blockvault/walletd/internal/kvstore"
	"github.com/blockvault/walletd/internal/mempool"
	"github.com/blockvault/walletd/internal/scrfilter"
	"github.com/blockvault/walletd/internal/viewer"
	"github.com/blockvault/walletd/internal/wallet"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	kv, err := kvstore.Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("kvstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	wb := kv.NewWriteBatch(1 << 20)
	chain := chainstore.New(kv, wb, chainmodel.Hash{0xde, 0xad})
	filter := scrfilter.New(kv, wb)
	noResolve := func(chainmodel.Hash, uint32) ([]byte, int64, bool) { return nil, 0, false }
	pool := mempool.New(noResolve)
	index := blockindex.New(kv, wb, chain, filter)
	v := viewer.New(chain, kv, filter, pool, index)
	return NewHandler(v)
}

func newTestRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.GET("/info", h.GetInfo)
	r.GET("/wallets/:group/:wallet/scripts", h.GetWalletScripts)
	r.PUT("/wallets/:group/:wallet/scripts", h.RegisterScripts)
	r.GET("/wallets/:group/history/:page", h.GetWalletHistoryPage)
	r.GET("/zc-utxos/:script", h.GetUnspentZC)
	r.PUT("/mempool/tx", h.SubmitTx)
	return r
}

func TestGetInfoReportsGenesisHeight(t *testing.T) {
	h := newTestHandler(t)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["height"].(float64) != 0 {
		t.Fatalf("expected height 0, got %v", body["height"])
	}
}

func TestRegisterScriptsThenListScripts(t *testing.T) {
	h := newTestHandler(t)
	r := newTestRouter(h)

	h.View.RegisterWallet(viewer.GroupWallets, wallet.New("alice"))

	body, _ := json.Marshal(RegisterScriptsRequest{Scripts: []string{"0014aabbccddeeff"}, IsNew: true})
	req := httptest.NewRequest(http.MethodPut, "/wallets/wallets/alice/scripts", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 registering scripts, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/wallets/wallets/alice/scripts", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 listing scripts, got %d: %s", w.Code, w.Body.String())
	}
	var got struct {
		Scripts []string `json:"scripts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Scripts) != 1 || got.Scripts[0] != "0014aabbccddeeff" {
		t.Fatalf("unexpected scripts: %+v", got.Scripts)
	}
}

func TestGetWalletScriptsUnknownWallet(t *testing.T) {
	h := newTestHandler(t)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/wallets/wallets/ghost/scripts", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetUnspentZCRejectsBadHex(t *testing.T) {
	h := newTestHandler(t)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/zc-utxos/not-hex", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
