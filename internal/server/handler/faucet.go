package handler

import (
	"log/slog"
	"math/big"
	"net/http"
)

// Minter mints settlement tokens out of thin air. Only the in-process
// token supports it; deployments settling on-chain never register the
// faucet route.
type Minter interface {
	Mint(account string, amount *big.Int)
}

// faucetMaxAmount caps a single faucet grant at one million tokens.
var faucetMaxAmount = new(big.Int).Mul(big.NewInt(1_000_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// FaucetHandler credits dev balances against the in-process token.
type FaucetHandler struct {
	minter Minter
	logger *slog.Logger
}

// NewFaucetHandler creates a FaucetHandler.
func NewFaucetHandler(minter Minter, logger *slog.Logger) *FaucetHandler {
	return &FaucetHandler{
		minter: minter,
		logger: logger.With(slog.String("handler", "faucet")),
	}
}

type faucetRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// Mint credits the requested amount to the account.
// POST /api/faucet
func (h *FaucetHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	if amount.Sign() <= 0 || amount.Cmp(faucetMaxAmount) > 0 {
		writeError(w, http.StatusBadRequest, "amount out of range")
		return
	}

	h.minter.Mint(req.Account, amount)
	h.logger.Info("minted",
		slog.String("account", req.Account),
		slog.String("amount", amount.String()),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"account": req.Account,
		"amount":  amount.String(),
	})
}
