package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chat-wallet/chat-wallet/internal/keyvault"
	"github.com/chat-wallet/chat-wallet/pkg/types"
)

// vaultABI is the subset of the vault contract the core calls. Relay
// variants are gated on-chain to the relay signer; *WithSig variants
// verify the user's typed-data signature and consume the nonce.
const vaultABI = `[
	{"name":"nonces","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"vaultBalanceOf","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"relayTransfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"relayDeposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"relayWithdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"name":"transferWithSig","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"nonce","type":"uint256"},{"name":"sig","type":"bytes"}],"outputs":[]},
	{"name":"depositWithSig","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"amount","type":"uint256"},{"name":"nonce","type":"uint256"},{"name":"sig","type":"bytes"}],"outputs":[]},
	{"name":"withdrawWithSig","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"nonce","type":"uint256"},{"name":"sig","type":"bytes"}],"outputs":[]},
	{"name":"setProfileWithSig","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"authTier","type":"uint8"},{"name":"riskTier","type":"uint8"},{"name":"nonce","type":"uint256"},{"name":"sig","type":"bytes"}],"outputs":[]}
]`

// EthClient implements Client against an Ethereum RPC endpoint.
type EthClient struct {
	client   *ethclient.Client
	chainID  *big.Int
	contract common.Address
	vault    abi.ABI
	signer   *keyvault.RelaySigner
}

// NewEthClient connects to the RPC endpoint and auto-detects the chain ID.
func NewEthClient(rpcURL string, contract common.Address, signer *keyvault.RelaySigner) (*EthClient, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	chainID, err := client.ChainID(context.Background())
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	vault, err := abi.JSON(strings.NewReader(vaultABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse vault ABI: %w", err)
	}

	return &EthClient{
		client:   client,
		chainID:  chainID,
		contract: contract,
		vault:    vault,
		signer:   signer,
	}, nil
}

// ChainID returns the chain ID
func (c *EthClient) ChainID() int64 {
	return c.chainID.Int64()
}

// Nonce returns the user's live vault nonce.
func (c *EthClient) Nonce(ctx context.Context, user common.Address) (uint64, error) {
	out, err := c.view(ctx, "nonces", user)
	if err != nil {
		return 0, err
	}
	return out.Uint64(), nil
}

// BalanceOf returns the user's wallet token balance.
func (c *EthClient) BalanceOf(ctx context.Context, user common.Address) (*big.Int, error) {
	return c.view(ctx, "balanceOf", user)
}

// VaultBalanceOf returns the user's vaulted balance.
func (c *EthClient) VaultBalanceOf(ctx context.Context, user common.Address) (*big.Int, error) {
	return c.view(ctx, "vaultBalanceOf", user)
}

// view performs a single-uint256-output contract read.
func (c *EthClient) view(ctx context.Context, method string, user common.Address) (*big.Int, error) {
	data, err := c.vault.Pack(method, user)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	res, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	out, err := c.vault.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s output type %T", method, out[0])
	}
	return value, nil
}

// Submit performs a relay-authorized call with the server-held signer.
func (c *EthClient) Submit(ctx context.Context, call Call) (*Receipt, error) {
	data, err := c.packRelay(call)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, data)
}

// SubmitSigned performs a user-authorized call, forwarding the user's
// typed-data signature for on-chain verification.
func (c *EthClient) SubmitSigned(ctx context.Context, call Call, userSig []byte) (*Receipt, error) {
	data, err := c.packSigned(call, userSig)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, data)
}

func (c *EthClient) packRelay(call Call) ([]byte, error) {
	switch call.Action {
	case types.ActionTransfer:
		return c.vault.Pack("relayTransfer", call.From, call.To, call.Amount)
	case types.ActionDeposit:
		return c.vault.Pack("relayDeposit", call.From, call.Amount)
	case types.ActionWithdraw:
		return c.vault.Pack("relayWithdraw", call.From, call.To, call.Amount)
	}
	// Profile changes have no relay variant: they always arrive signed.
	return nil, fmt.Errorf("no relay method for action %q", call.Action)
}

func (c *EthClient) packSigned(call Call, sig []byte) ([]byte, error) {
	nonce := new(big.Int).SetUint64(call.Nonce)
	switch call.Action {
	case types.ActionTransfer:
		return c.vault.Pack("transferWithSig", call.From, call.To, call.Amount, nonce, sig)
	case types.ActionDeposit:
		return c.vault.Pack("depositWithSig", call.From, call.Amount, nonce, sig)
	case types.ActionWithdraw:
		return c.vault.Pack("withdrawWithSig", call.From, call.To, call.Amount, nonce, sig)
	case types.ActionProfileChange:
		return c.vault.Pack("setProfileWithSig", call.From, uint8(call.AuthTier), uint8(call.RiskTier), nonce, sig)
	}
	return nil, fmt.Errorf("no signed method for action %q", call.Action)
}

// send signs and broadcasts a vault call, then waits for inclusion.
// Reverts surface either at gas estimation or as a failed receipt; both
// map to ErrReverted so callers can report them distinctly from transport
// failures.
func (c *EthClient) send(ctx context.Context, data []byte) (*Receipt, error) {
	from := c.signer.Address()

	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &c.contract,
		Data: data,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrReverted, err.Error())
	}

	acctNonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get account nonce: %w", err)
	}

	tipCap, err := c.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}

	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain head: %w", err)
	}
	// baseFee*2 + tip absorbs moderate fee swings between build and mine.
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tipCap)

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     acctNonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas * 120 / 100,
		To:        &c.contract,
		Data:      data,
	})

	signed, err := c.signer.SignTx(tx, c.chainID)
	if err != nil {
		return nil, err
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.client, signed)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for receipt: %w", err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s", ErrReverted, signed.Hash().Hex())
	}

	return &Receipt{
		TxHash:      signed.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// Close closes the client connection
func (c *EthClient) Close() {
	c.client.Close()
}
