package restapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/blockvault/walletd/internal/logging"
)

// RunServer starts the REST query surface with gzip compression and a
// permissive CORS policy.
func RunServer(addr string, h *Handler) {
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()
	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "PUT"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: true,
	}))

	router.GET("/info", h.GetInfo)
	router.GET("/wallets/:group/:wallet/scripts", h.GetWalletScripts)
	router.PUT("/wallets/:group/:wallet/scripts", h.RegisterScripts)
	router.GET("/wallets/:group/history/:page", h.GetWalletHistoryPage)
	router.GET("/zc-utxos/:script", h.GetUnspentZC)
	router.PUT("/mempool/tx", h.SubmitTx)

	if err := router.Run(addr); err != nil {
		logging.L.Err(err).Msg("could not run REST server")
	}
}
