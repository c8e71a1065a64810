// Package restapi implements the REST query surface over the viewer:
// chain info, wallet script listing, history pages, and zero-conf UTXOs
// by script, plus the endpoints that register wallet scripts and submit
// transactions.
package restapi

import (
	"bytes"
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/blockvault/walletd/internal/viewer"
	"github.com/btcsuite/btcd/wire"
)

// Handler holds the collaborators every route reads from. It stores no
// request-scoped state of its own.
type Handler struct {
	View *viewer.Viewer
}

func NewHandler(v *viewer.Viewer) *Handler {
	return &Handler{View: v}
}

// GetInfo reports the chain tip the viewer is currently caught up to.
func (h *Handler) GetInfo(c *gin.Context) {
	top := h.View.Chain.Top()
	height := uint32(0)
	hash := ""
	if top != nil {
		height = top.Height
		hash = top.Hash.String()
	}
	c.JSON(http.StatusOK, gin.H{
		"height": height,
		"hash":   hash,
	})
}

// GetWalletHistoryPage serves one paged ledger slice for a registered
// wallet group.
func (h *Handler) GetWalletHistoryPage(c *gin.Context) {
	groupName := viewer.GroupName(c.Param("group"))
	group := h.View.Group(groupName)
	if group == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown wallet group"})
		return
	}

	pageID, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page id"})
		return
	}

	page := group.GetHistoryPage(pageID, 0, false)
	c.JSON(http.StatusOK, gin.H{"page": pageID, "entries": page})
}

// GetWalletScripts lists every script a registered wallet tracks.
func (h *Handler) GetWalletScripts(c *gin.Context) {
	groupName := viewer.GroupName(c.Param("group"))
	group := h.View.Group(groupName)
	if group == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown wallet group"})
		return
	}

	w, ok := group.Wallet(c.Param("wallet"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown wallet"})
		return
	}

	scripts := w.Scripts()
	out := make([]string, len(scripts))
	for i, s := range scripts {
		out[i] = s.String()
	}
	c.JSON(http.StatusOK, gin.H{"scripts": out})
}

// GetUnspentZC serves the zero-conf UTXO set for a script, hex-encoded
// pkScript in the path.
func (h *Handler) GetUnspentZC(c *gin.Context) {
	scriptHex := c.Param("script")
	pkScript, err := decodeHexScript(scriptHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid script hex"})
		return
	}

	unspent := h.View.Pool.GetUnspentZCForScrAddr(pkScript)
	c.JSON(http.StatusOK, gin.H{"unspent": unspent})
}

// RegisterScriptsRequest is the JSON body for PUT /wallets/:group/:wallet/scripts.
type RegisterScriptsRequest struct {
	Scripts     []string `json:"scripts" binding:"required"`
	IsNew       bool     `json:"is_new"`
	BirthHeight uint32   `json:"birth_height"`
}

func (h *Handler) RegisterScripts(c *gin.Context) {
	groupName := viewer.GroupName(c.Param("group"))
	walletID := c.Param("wallet")

	var req RegisterScriptsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scripts := make([][]byte, 0, len(req.Scripts))
	for _, s := range req.Scripts {
		raw, err := decodeHexScript(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid script hex"})
			return
		}
		scripts = append(scripts, raw)
	}

	needsRescan := h.View.RegisterAddresses(groupName, walletID, scripts, req.IsNew, req.BirthHeight)
	c.JSON(http.StatusOK, gin.H{"needs_rescan": needsRescan})
}

// SubmitTxRequest is the JSON body for PUT /mempool/tx: a raw,
// hex-encoded transaction.
type SubmitTxRequest struct {
	RawTx string `json:"raw_tx" binding:"required"`
}

func (h *Handler) SubmitTx(c *gin.Context) {
	var req SubmitTxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	raw, err := hex.DecodeString(req.RawTx)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tx hex"})
		return
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tx encoding"})
		return
	}

	if err := h.View.SubmitTx(&tx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"txid": tx.TxHash().String()})
}

func decodeHexScript(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
