package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/custodia/gotrade/internal/domain"
)

// opKey extracts the caller-supplied operation key, if any. Retrying a
// request with the same key resumes the original operation instead of
// starting a new one.
func opKey(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("X-Idempotency-Key"))
}

type createUserRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

func (s *Server) handleUserCreate(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.Validationf("invalid json body"), nil)
		return
	}
	u, err := s.coord.CreateUser(req.UserID, req.Email)
	if err != nil {
		fail(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (s *Server) handleUsersList(c *gin.Context) {
	users, err := s.coord.ListUsers()
	if err != nil {
		fail(c, err, nil)
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) handleUserGet(c *gin.Context) {
	u, err := s.coord.GetUser(c.Param("userID"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, u)
}

type provisionWalletRequest struct {
	Chain string `json:"chain"`
}

func (s *Server) handleWalletProvision(c *gin.Context) {
	var req provisionWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, domain.Validationf("invalid json body"), nil)
		return
	}
	w, err := s.coord.ProvisionWallet(c.Request.Context(), c.Param("userID"), req.Chain, opKey(c))
	if err != nil {
		fail(c, err, walletOrNil(w))
		return
	}
	c.JSON(http.StatusCreated, w)
}

func walletOrNil(w domain.Wallet) any {
	if w.ID == "" {
		return nil
	}
	return w
}

func (s *Server) handleWalletsList(c *gin.Context) {
	ws, err := s.coord.ListWallets(c.Param("userID"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	if ws == nil {
		ws = []domain.Wallet{}
	}
	c.JSON(http.StatusOK, ws)
}

func (s *Server) handleWalletGet(c *gin.Context) {
	w, err := s.coord.GetWallet(c.Param("walletID"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) handleBalance(c *gin.Context) {
	b, err := s.coord.GetBalance(c.Request.Context(), c.Param("walletID"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, b)
}
