package ethereum

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	xerrors "Enclava-Chain/internal/errors"
	"Enclava-Chain/internal/payment"
	"Enclava-Chain/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Backend mirrors the subset of ethclient.Client the adapter needs. Tests
// provide hand-written stubs instead of a live node.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
	EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q gethcore.FilterQuery) ([]coretypes.Log, error)
}

// Config describes how to construct the on-chain payment adapter.
type Config struct {
	ChainName       string
	DefinitionsPath string
	ContractAddress string
	Signer          Signer
	ReceiptTimeout  time.Duration
	PollInterval    time.Duration
}

// Adapter implements payment.Adapter against the dataset NFT contract.
type Adapter struct {
	backend  Backend
	signer   Signer
	contract common.Address
	tracker  *payment.Tracker

	receiptTimeout time.Duration
	pollInterval   time.Duration

	mu      sync.Mutex
	chainID *big.Int

	rpcClient *gethrpc.Client
}

// NewAdapter dials the configured chain and returns a ready-to-use adapter.
func NewAdapter(ctx context.Context, cfg Config) (*Adapter, error) {
	defs, err := LoadChainDefinitions(cfg.DefinitionsPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitialization, err, "加载链定义失败")
	}
	def, err := defs.Resolve(cfg.ChainName)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitialization, err, "解析链定义失败")
	}

	rpcClient, err := gethrpc.DialContext(ctx, def.RPCURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitialization, err, "连接以太坊节点失败")
	}

	adapter := newAdapter(ethclient.NewClient(rpcClient), cfg)
	adapter.rpcClient = rpcClient
	return adapter, nil
}

// NewAdapterWithBackend builds an adapter over an existing backend. Used by
// tests and by callers that manage their own connection.
func NewAdapterWithBackend(backend Backend, cfg Config) *Adapter {
	return newAdapter(backend, cfg)
}

// Dial opens a backend shared by several adapters. The returned closer
// releases the RPC connection.
func Dial(ctx context.Context, cfg Config) (Backend, func(), error) {
	defs, err := LoadChainDefinitions(cfg.DefinitionsPath)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInitialization, err, "加载链定义失败")
	}
	def, err := defs.Resolve(cfg.ChainName)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInitialization, err, "解析链定义失败")
	}
	rpcClient, err := gethrpc.DialContext(ctx, def.RPCURL)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInitialization, err, "连接以太坊节点失败")
	}
	return ethclient.NewClient(rpcClient), rpcClient.Close, nil
}

func newAdapter(backend Backend, cfg Config) *Adapter {
	contract := cfg.ContractAddress
	if strings.TrimSpace(contract) == "" {
		contract = DefaultContractAddress
	}
	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = 2 * time.Minute
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Adapter{
		backend:        backend,
		signer:         cfg.Signer,
		contract:       common.HexToAddress(contract),
		tracker:        payment.NewTracker(),
		receiptTimeout: receiptTimeout,
		pollInterval:   pollInterval,
	}
}

// Close releases the underlying RPC connection when the adapter owns one.
func (a *Adapter) Close() {
	if a.rpcClient != nil {
		a.rpcClient.Close()
		a.rpcClient = nil
	}
}

// Connected reports whether the adapter can sign and broadcast transactions.
func (a *Adapter) Connected() bool {
	return a != nil && a.backend != nil && a.signer != nil
}

// State returns the current payment snapshot.
func (a *Adapter) State() payment.Snapshot {
	return a.tracker.State()
}

// Reset returns the lifecycle to idle.
func (a *Adapter) Reset() {
	a.tracker.Reset()
}

// Contract returns the dataset NFT contract address.
func (a *Adapter) Contract() common.Address {
	return a.contract
}

// Pay submits a batched dataset purchase and blocks until the transaction
// reaches a terminal state. The lifecycle is observable via State while the
// call is in flight.
func (a *Adapter) Pay(ctx context.Context, req payment.Request) (string, error) {
	if !a.Connected() {
		err := xerrors.New(xerrors.CodeWalletNotConnected, "")
		return "", err
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	a.tracker.Pending()

	total, each, err := payment.TotalWei(req.Amounts)
	if err != nil {
		a.tracker.Failed(err)
		return "", err
	}
	calldata, err := packPayForDatasets(req.TokenIDs, each)
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeChainFailure, err, "构造购买交易失败")
		a.tracker.Failed(wrapped)
		return "", wrapped
	}

	balance, err := a.backend.BalanceAt(ctx, a.signer.Address(), nil)
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeChainFailure, err, "查询余额失败")
		a.tracker.Failed(wrapped)
		return "", wrapped
	}
	if balance.Cmp(total) < 0 {
		failed := xerrors.New(xerrors.CodeInsufficientFunds, "",
			xerrors.WithMetadata("required_wei", total.String()),
			xerrors.WithMetadata("balance_wei", balance.String()))
		a.tracker.Failed(failed)
		return "", failed
	}

	signed, err := a.submit(ctx, calldata, total)
	if err != nil {
		a.tracker.Failed(err)
		return "", err
	}
	txHash := signed.Hash().Hex()
	a.tracker.Confirming(txHash)

	receipt, err := a.waitForReceipt(ctx, signed.Hash())
	if err != nil {
		a.tracker.Failed(err)
		return "", err
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		failed := xerrors.New(xerrors.CodeChainFailure, "购买交易被回滚",
			xerrors.WithMetadata("tx_hash", txHash))
		a.tracker.Failed(failed)
		return "", failed
	}

	a.tracker.Succeeded(txHash)
	logger.Audit().Info("dataset purchase confirmed",
		"tx_hash", txHash,
		"buyer", a.signer.Address().Hex(),
		"token_count", len(req.TokenIDs),
		"total_wei", total.String(),
	)
	return txHash, nil
}

// Mint issues a dataset NFT to its owner and waits for the receipt. Minting
// does not touch the purchase lifecycle.
func (a *Adapter) Mint(ctx context.Context, to string, datasetID string) (string, error) {
	if !a.Connected() {
		return "", xerrors.New(xerrors.CodeWalletNotConnected, "")
	}
	if !common.IsHexAddress(to) {
		return "", xerrors.New(xerrors.CodeValidation, "铸造目标地址不合法")
	}
	calldata, err := packSafeMint(common.HexToAddress(to), datasetID)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeChainFailure, err, "构造铸造交易失败")
	}

	signed, err := a.submit(ctx, calldata, new(big.Int))
	if err != nil {
		return "", err
	}
	receipt, err := a.waitForReceipt(ctx, signed.Hash())
	if err != nil {
		return "", err
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return "", xerrors.New(xerrors.CodeChainFailure, "铸造交易被回滚",
			xerrors.WithMetadata("tx_hash", signed.Hash().Hex()))
	}
	logger.Audit().Info("dataset nft minted",
		"tx_hash", signed.Hash().Hex(),
		"to", to,
		"dataset_id", datasetID,
	)
	return signed.Hash().Hex(), nil
}

// TotalEarnedBy reads the accumulated on-chain earnings for an owner.
func (a *Adapter) TotalEarnedBy(ctx context.Context, owner string) (*big.Int, error) {
	if a == nil || a.backend == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "支付适配器未初始化")
	}
	if !common.IsHexAddress(owner) {
		return nil, xerrors.New(xerrors.CodeValidation, "查询地址不合法")
	}
	calldata, err := packTotalEarned(common.HexToAddress(owner))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "构造收益查询失败")
	}
	output, err := a.backend.CallContract(ctx, gethcore.CallMsg{
		To:   &a.contract,
		Data: calldata,
	}, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "收益查询失败")
	}
	earned, err := unpackTotalEarned(output)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "")
	}
	return earned, nil
}

// submit builds, signs and broadcasts a dynamic-fee transaction against the
// contract.
func (a *Adapter) submit(ctx context.Context, calldata []byte, value *big.Int) (*coretypes.Transaction, error) {
	chainID, err := a.resolveChainID(ctx)
	if err != nil {
		return nil, err
	}
	from := a.signer.Address()

	nonce, err := a.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "查询 nonce 失败")
	}
	tip, err := a.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "查询小费单价失败")
	}
	head, err := a.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "查询最新区块头失败")
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gasLimit, err := a.backend.EstimateGas(ctx, gethcore.CallMsg{
		From:  from,
		To:    &a.contract,
		Value: value,
		Data:  calldata,
	})
	if err != nil {
		// 估算失败通常意味着调用会回滚，例如 token 不存在或金额不符。
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "交易预执行失败")
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &a.contract,
		Value:     value,
		Data:      calldata,
	})

	signed, err := a.signer.SignTx(tx, chainID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePaymentRejected, err, "")
	}
	if err := a.backend.SendTransaction(ctx, signed); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "广播交易失败")
	}
	return signed, nil
}

// waitForReceipt polls the chain until the transaction is mined or the
// timeout elapses.
func (a *Adapter) waitForReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	deadline := time.NewTimer(a.receiptTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := a.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待交易回执被取消")
		case <-deadline.C:
			return nil, xerrors.New(xerrors.CodeReceiptTimeout, "",
				xerrors.WithMetadata("tx_hash", txHash.Hex()))
		case <-ticker.C:
		}
	}
}

func (a *Adapter) resolveChainID(ctx context.Context) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.chainID != nil {
		return a.chainID, nil
	}
	chainID, err := a.backend.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeChainFailure, err, "获取链 ID 失败")
	}
	a.chainID = chainID
	return chainID, nil
}

var _ payment.Adapter = (*Adapter)(nil)
