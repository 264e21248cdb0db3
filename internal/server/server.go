// Package server exposes the coordinator over HTTP.
package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/custodia/gotrade/internal/coordinator"
	"github.com/custodia/gotrade/internal/domain"
	"github.com/custodia/gotrade/internal/history"
)

var log = logrus.WithField("component", "http")

type Server struct {
	coord   *coordinator.Coordinator
	archive *history.Archive
}

// New wires the HTTP surface. archive may be nil; history endpoints then
// return 404.
func New(coord *coordinator.Coordinator, archive *history.Archive) *Server {
	return &Server{coord: coord, archive: archive}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")

	users := api.Group("/users")
	users.POST("", s.handleUserCreate)
	users.GET("", s.handleUsersList)
	userID := users.Group("/:userID")
	userID.GET("", s.handleUserGet)
	userID.POST("/wallets", s.handleWalletProvision)
	userID.GET("/wallets", s.handleWalletsList)

	wallets := api.Group("/wallets/:walletID")
	wallets.GET("", s.handleWalletGet)
	wallets.GET("/balance", s.handleBalance)
	wallets.GET("/account", s.handleAccount)
	wallets.GET("/positions", s.handlePositions)
	wallets.POST("/transfers", s.handleTransferCreate)
	wallets.GET("/transfers/:transferID", s.handleTransferGet)
	wallets.POST("/orders", s.handleOrderPlace)
	wallets.GET("/orders", s.handleOpenOrders)
	wallets.GET("/orders/history", s.handleOrderHistory)
	wallets.GET("/transfers", s.handleTransferHistory)
	wallets.GET("/orders/:orderID", s.handleOrderGet)
	wallets.DELETE("/orders/:orderID", s.handleOrderCancel)
	wallets.DELETE("/orders", s.handleOrdersCancelAll)

	markets := api.Group("/markets")
	markets.GET("", s.handleMarketsList)
	markets.GET("/:symbol", s.handleMarketGet)

	return r
}

// fail maps the coordinator error taxonomy to HTTP. record, when non-nil,
// rides along so callers see the state the operation left behind.
func fail(c *gin.Context, err error, record any) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrDuplicateKey):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrAlreadyTerminal):
		// Cancelling a finished order is a no-op, not a failure.
		status = http.StatusOK
	case errors.Is(err, domain.ErrOperationPending),
		errors.Is(err, domain.ErrProvisioningIncomplete):
		status = http.StatusAccepted
	case domain.IsTransient(err):
		status = http.StatusServiceUnavailable
	default:
		var gw *domain.GatewayError
		if errors.As(err, &gw) {
			status = http.StatusBadGateway
		}
	}

	body := gin.H{"error": err.Error()}
	if record != nil {
		body["record"] = record
	}
	if status >= 500 {
		log.WithField("status", status).Warnf("request failed: %v", err)
	}
	c.JSON(status, body)
}
