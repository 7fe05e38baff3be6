package devbackend

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/yolodolo42/walletgate/internal/wallet"
)

var (
	errWrongWallet   = errors.New("message was issued for a different wallet")
	errStaleMessage  = errors.New("message is too old")
	errMalformedText = errors.New("message is missing required fields")
)

// Handlers contains HTTP handlers for the wallet endpoints
type Handlers struct {
	s *Server
}

// NewHandlers creates handlers backed by s
func NewHandlers(s *Server) *Handlers {
	return &Handlers{s: s}
}

type signedRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	Signature     string `json:"signature" binding:"required"`
	Message       string `json:"message" binding:"required"`
	WalletType    string `json:"wallet_type"`
	ChainID       uint64 `json:"chain_id"`
}

type trackRequest struct {
	WalletType string `json:"walletType" binding:"required"`
	Address    string `json:"address" binding:"required"`
	ChainID    uint64 `json:"chainId"`
	Timestamp  string `json:"timestamp"`
}

// Login verifies a signed challenge and issues tokens
func (h *Handlers) Login(c *gin.Context) {
	var req signedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request."})
		return
	}
	if !h.verified(c, req) {
		return
	}
	if !h.s.consume(req.Message) {
		c.JSON(http.StatusBadRequest, gin.H{"message": []string{"This challenge has already been used."}})
		return
	}

	user := h.s.userFor(common.HexToAddress(req.WalletAddress).Hex())
	access, refresh, err := h.s.issuePair(user.ID, user.WalletAddress)
	if err != nil {
		h.s.logger.Error().Err(err).Msg("failed to issue tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to issue tokens."})
		return
	}

	h.s.logger.Info().Int64("user", user.ID).Str("wallet", user.WalletAddress).Str("wallet_type", req.WalletType).Msg("wallet login")
	c.JSON(http.StatusOK, gin.H{
		"access":  access,
		"refresh": refresh,
		"user":    user,
	})
}

// Link associates the signed wallet with the authenticated account
func (h *Handlers) Link(c *gin.Context) {
	var req signedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request."})
		return
	}
	if !h.verified(c, req) {
		return
	}

	userID := c.GetInt64(userIDKey)
	user, ok := h.s.user(userID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "User not found."})
		return
	}

	if !h.s.link(user.ID, req.WalletAddress) {
		c.JSON(http.StatusBadRequest, gin.H{
			"wallet_address": []string{"This wallet is already associated with an account."},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "linked", "user": user})
}

// Track records a wallet connection once per wallet, type and chain
func (h *Handlers) Track(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request."})
		return
	}
	if !common.IsHexAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"address": []string{"Enter a valid wallet address."}})
		return
	}
	if req.Timestamp != "" {
		if _, err := time.Parse(time.RFC3339Nano, req.Timestamp); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"timestamp": []string{"Enter a valid date/time."}})
			return
		}
	}

	if !h.s.track(req.WalletType, req.Address, req.ChainID) {
		if h.s.cfg.AlreadyConnectedStatus {
			c.JSON(http.StatusOK, gin.H{"status": "already_connected"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"non_field_errors": []string{"Wallet already connected."}})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "recorded"})
}

// verified checks the signature and message of req, writing the error
// response itself when they do not hold up
func (h *Handlers) verified(c *gin.Context, req signedRequest) bool {
	if !common.IsHexAddress(req.WalletAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"wallet_address": []string{"Enter a valid wallet address."}})
		return false
	}
	address := common.HexToAddress(req.WalletAddress)

	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"signature": []string{"Signature must be hex encoded."}})
		return false
	}
	if err := wallet.VerifyMessage(address, []byte(req.Message), sig); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Invalid signature."})
		return false
	}

	if err := h.checkMessage(address, req.Message); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": []string{err.Error()}})
		return false
	}
	return true
}

// checkMessage validates the fields of a sign-in message
func (h *Handlers) checkMessage(address common.Address, message string) error {
	var walletField, nonce, issued string
	for _, line := range strings.Split(message, "\n") {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch key {
		case "Wallet":
			walletField = value
		case "Nonce":
			nonce = value
		case "Issued At":
			issued = value
		}
	}
	if walletField == "" || nonce == "" || issued == "" {
		return errMalformedText
	}
	if !strings.EqualFold(walletField, address.Hex()) {
		return errWrongWallet
	}

	issuedAt, err := time.Parse(time.RFC3339, issued)
	if err != nil {
		return errMalformedText
	}
	if h.s.cfg.Now().Sub(issuedAt) > h.s.cfg.MessageTTL {
		return errStaleMessage
	}
	return nil
}
