package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/custodia/gotrade/internal/coordinator"
	"github.com/custodia/gotrade/internal/domain"
	"github.com/custodia/gotrade/internal/gateway/exchange"
)

type createTransferRequest struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

func (s *Server) handleTransferCreate(c *gin.Context) {
	var req createTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.Validationf("invalid json body"), nil)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		fail(c, domain.Validationf("amount %q is not a number", req.Amount), nil)
		return
	}

	t, err := s.coord.Transfer(c.Request.Context(), c.Param("walletID"), req.Destination, amount, opKey(c))
	if err != nil {
		fail(c, err, transferOrNil(t))
		return
	}
	c.JSON(http.StatusCreated, t)
}

func transferOrNil(t domain.TransferIntent) any {
	if t.ID == "" {
		return nil
	}
	return t
}

func (s *Server) handleTransferGet(c *gin.Context) {
	t, err := s.coord.GetTransfer(c.Param("transferID"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	if t.WalletID != c.Param("walletID") {
		fail(c, domain.ErrNotFound, nil)
		return
	}
	c.JSON(http.StatusOK, t)
}

type placeOrderRequest struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Size   string `json:"size"`
	Price  string `json:"price"`
	Kind   string `json:"kind"`
}

func (s *Server) handleOrderPlace(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.Validationf("invalid json body"), nil)
		return
	}

	side, err := domain.ParseSide(req.Side)
	if err != nil {
		fail(c, err, nil)
		return
	}
	kind, err := domain.ParseKind(req.Kind)
	if err != nil {
		fail(c, err, nil)
		return
	}
	size, err := decimal.NewFromString(req.Size)
	if err != nil {
		fail(c, domain.Validationf("size %q is not a number", req.Size), nil)
		return
	}
	var price *decimal.Decimal
	if req.Price != "" {
		p, err := decimal.NewFromString(req.Price)
		if err != nil {
			fail(c, domain.Validationf("price %q is not a number", req.Price), nil)
			return
		}
		price = &p
	}

	o, err := s.coord.PlaceOrder(c.Request.Context(), coordinator.PlaceOrderRequest{
		WalletID: c.Param("walletID"),
		Symbol:   req.Symbol,
		Side:     side,
		Size:     size,
		Price:    price,
		Kind:     kind,
		OpKey:    opKey(c),
	})
	if err != nil {
		fail(c, err, orderOrNil(o))
		return
	}
	c.JSON(http.StatusCreated, o)
}

func orderOrNil(o domain.OrderIntent) any {
	if o.ID == "" {
		return nil
	}
	return o
}

func (s *Server) handleOrderGet(c *gin.Context) {
	o, err := s.coord.GetOrder(c.Param("orderID"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	if o.WalletID != c.Param("walletID") {
		fail(c, domain.ErrNotFound, nil)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleOpenOrders(c *gin.Context) {
	orders, err := s.coord.GetOpenOrders(c.Param("walletID"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	if orders == nil {
		orders = []domain.OrderIntent{}
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) handleOrderCancel(c *gin.Context) {
	o, err := s.coord.CancelOrder(c.Request.Context(), c.Param("walletID"), c.Param("orderID"))
	if err != nil {
		fail(c, err, orderOrNil(o))
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleOrdersCancelAll(c *gin.Context) {
	cancelled, err := s.coord.CancelAllOrders(c.Request.Context(), c.Param("walletID"), c.Query("symbol"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	if cancelled == nil {
		cancelled = []domain.OrderIntent{}
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func (s *Server) handleAccount(c *gin.Context) {
	acct, err := s.coord.GetAccount(c.Request.Context(), c.Param("walletID"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) handlePositions(c *gin.Context) {
	positions, err := s.coord.GetPositions(c.Request.Context(), c.Param("walletID"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	if positions == nil {
		positions = []exchange.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) handleMarketsList(c *gin.Context) {
	markets, err := s.coord.GetAllMarkets(c.Request.Context())
	if err != nil {
		fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, markets)
}

func (s *Server) handleMarketGet(c *gin.Context) {
	m, err := s.coord.GetMarket(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, m)
}

func historyLimit(c *gin.Context) int {
	n, _ := strconv.Atoi(c.Query("limit"))
	return n
}

func (s *Server) handleOrderHistory(c *gin.Context) {
	if s.archive == nil {
		fail(c, domain.ErrNotFound, nil)
		return
	}
	rows, err := s.archive.OrdersForWallet(c.Request.Context(), c.Param("walletID"), historyLimit(c))
	if err != nil {
		fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) handleTransferHistory(c *gin.Context) {
	if s.archive == nil {
		fail(c, domain.ErrNotFound, nil)
		return
	}
	rows, err := s.archive.TransfersForWallet(c.Request.Context(), c.Param("walletID"), historyLimit(c))
	if err != nil {
		fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, rows)
}
