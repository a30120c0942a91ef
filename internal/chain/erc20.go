package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// erc20ABIJSON covers the four methods the settlement adapter calls. The
// full standard is not needed.
const erc20ABIJSON = `[
  {"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]},
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"type":"uint256"}]},
  {"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool"}]},
  {"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool"}]}
]`

var transferEventSignature = gethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// receiptPollInterval is how often a pending transaction's receipt is
// re-checked while waiting for inclusion.
const receiptPollInterval = 2 * time.Second

// Config holds the settlement chain connection parameters.
type Config struct {
	RPCURL       string
	ChainID      int64
	TokenAddress string
	Key          KeySource
}

// ERC20Asset implements domain.SettlementAsset against an ERC-20 token
// contract. Outbound movements are submitted as transactions signed with
// the custody key; movements from any other holder go through
// transferFrom and rely on an allowance granted to the custody address.
//
// The adapter only reports submission-level success. Balance-delta
// verification of every movement happens one layer up, so a token that
// returns true and then short-changes the recipient is still caught.
type ERC20Asset struct {
	client  *ethclient.Client
	token   common.Address
	abi     abi.ABI
	key     *ecdsa.PrivateKey
	custody common.Address
	chainID *big.Int
	logger  *slog.Logger
}

// New dials the RPC endpoint, loads the custody key and verifies that the
// configured token address actually carries contract code.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*ERC20Asset, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, errors.New("chain: rpc url required")
	}
	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("chain: invalid token address %q", cfg.TokenAddress)
	}

	keyHex, err := LoadKey(cfg.Key)
	if err != nil {
		return nil, err
	}
	key, err := gethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("chain: invalid custody key: %w", err)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse erc20 abi: %w", err)
	}

	token := common.HexToAddress(cfg.TokenAddress)
	code, err := client.CodeAt(ctx, token, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: code at %s: %w", token.Hex(), err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("chain: no contract code at %s", token.Hex())
	}

	a := &ERC20Asset{
		client:  client,
		token:   token,
		abi:     parsed,
		key:     key,
		custody: gethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(cfg.ChainID),
		logger:  logger.With("component", "chain"),
	}

	a.logger.Info("settlement asset connected",
		"token", token.Hex(),
		"custody", a.custody.Hex(),
		"chain_id", cfg.ChainID,
	)
	return a, nil
}

// Custody returns the address derived from the custody key. Markets created
// against this adapter use it as their custody account.
func (a *ERC20Asset) Custody() string {
	return a.custody.Hex()
}

// Close releases the underlying RPC connection.
func (a *ERC20Asset) Close() {
	a.client.Close()
}

// Decimals returns the token's fixed-point scale.
func (a *ERC20Asset) Decimals(ctx context.Context) (uint8, error) {
	out, err := a.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	dec, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chain: decimals: unexpected return type %T", out[0])
	}
	return dec, nil
}

// BalanceOf returns the token balance held by account.
func (a *ERC20Asset) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	if !common.IsHexAddress(account) {
		return nil, fmt.Errorf("chain: invalid account address %q", account)
	}
	out, err := a.call(ctx, "balanceOf", common.HexToAddress(account))
	if err != nil {
		return nil, err
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: balanceOf: unexpected return type %T", out[0])
	}
	return bal, nil
}

// Transfer moves amount from `from` to `to`. When `from` is the custody
// address the movement is a direct transfer; for any other holder it runs
// as transferFrom against the holder's allowance.
func (a *ERC20Asset) Transfer(ctx context.Context, from, to string, amount *big.Int) error {
	if !common.IsHexAddress(from) || !common.IsHexAddress(to) {
		return fmt.Errorf("chain: invalid transfer addresses %q -> %q", from, to)
	}
	fromAddr := common.HexToAddress(from)
	toAddr := common.HexToAddress(to)

	if fromAddr == a.custody {
		data, err := a.abi.Pack("transfer", toAddr, amount)
		if err != nil {
			return fmt.Errorf("chain: pack transfer: %w", err)
		}
		return a.send(ctx, data, toAddr, amount)
	}
	return a.TransferFrom(ctx, from, to, amount)
}

// TransferFrom moves amount from `from` to `to` on the strength of an
// allowance granted to the custody address.
func (a *ERC20Asset) TransferFrom(ctx context.Context, from, to string, amount *big.Int) error {
	if !common.IsHexAddress(from) || !common.IsHexAddress(to) {
		return fmt.Errorf("chain: invalid transfer addresses %q -> %q", from, to)
	}
	fromAddr := common.HexToAddress(from)
	toAddr := common.HexToAddress(to)

	data, err := a.abi.Pack("transferFrom", fromAddr, toAddr, amount)
	if err != nil {
		return fmt.Errorf("chain: pack transferFrom: %w", err)
	}
	return a.send(ctx, data, toAddr, amount)
}

// call performs a read-only eth_call against the token contract.
func (a *ERC20Asset) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := a.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	raw, err := a.client.CallContract(ctx, ethereum.CallMsg{
		To:   &a.token,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}

	out, err := a.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("chain: %s returned no values", method)
	}
	return out, nil
}

// send signs and submits a token-contract transaction, waits for inclusion
// and verifies both the receipt status and the emitted Transfer log.
func (a *ERC20Asset) send(ctx context.Context, data []byte, expectTo common.Address, expectAmount *big.Int) error {
	nonce, err := a.client.PendingNonceAt(ctx, a.custody)
	if err != nil {
		return fmt.Errorf("chain: pending nonce: %w", err)
	}

	tipCap, err := a.client.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("chain: suggest tip cap: %w", err)
	}
	head, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("chain: fetch head: %w", err)
	}
	// feeCap = 2*baseFee + tip leaves headroom for base fee growth while
	// the transaction is pending.
	feeCap := new(big.Int).Add(
		new(big.Int).Mul(head.BaseFee, big.NewInt(2)),
		tipCap,
	)

	gasLimit, err := a.client.EstimateGas(ctx, ethereum.CallMsg{
		From: a.custody,
		To:   &a.token,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("chain: estimate gas: %w", err)
	}

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &a.token,
		Data:      data,
	})

	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(a.chainID), a.key)
	if err != nil {
		return fmt.Errorf("chain: sign tx: %w", err)
	}

	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("chain: send tx: %w", err)
	}

	receipt, err := a.waitMined(ctx, signed.Hash())
	if err != nil {
		return err
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("chain: tx %s reverted", signed.Hash().Hex())
	}

	// A successful status is not enough: confirm the token actually emitted
	// a matching Transfer. Non-standard tokens that return true without
	// moving value fail here.
	if err := a.verifyTransferLog(receipt, expectTo, expectAmount); err != nil {
		return err
	}

	a.logger.Info("settlement transfer mined",
		"tx", signed.Hash().Hex(),
		"block", receipt.BlockNumber.String(),
		"gas_used", receipt.GasUsed,
	)
	return nil
}

// waitMined polls for the transaction receipt until inclusion or ctx
// cancellation.
func (a *ERC20Asset) waitMined(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := a.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("chain: fetch receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: wait mined %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// verifyTransferLog checks the receipt for a Transfer event from the token
// contract matching the expected recipient and amount.
func (a *ERC20Asset) verifyTransferLog(receipt *gethtypes.Receipt, to common.Address, amount *big.Int) error {
	for _, log := range receipt.Logs {
		if log == nil || log.Address != a.token {
			continue
		}
		if len(log.Topics) < 3 || log.Topics[0] != transferEventSignature {
			continue
		}
		dst := common.BytesToAddress(log.Topics[2].Bytes())
		if dst != to {
			continue
		}
		value := new(big.Int).SetBytes(log.Data)
		if value.Cmp(amount) == 0 {
			return nil
		}
	}
	return fmt.Errorf("chain: tx %s emitted no matching transfer", receipt.TxHash.Hex())
}

// Compile-time interface check.
var _ domain.SettlementAsset = (*ERC20Asset)(nil)
