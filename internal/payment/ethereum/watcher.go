package ethereum

import (
	"context"
	"math/big"
	"time"

	"Enclava-Chain/internal/events"
	"Enclava-Chain/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// MintWatcher polls the chain for DatasetNFTMinted logs and publishes them
// to the event bus so pending uploads can be resolved.
type MintWatcher struct {
	backend  Backend
	contract common.Address
	producer events.Producer
	interval time.Duration

	lastBlock uint64
}

// MintWatcherConfig describes how the watcher scans the chain.
type MintWatcherConfig struct {
	ContractAddress string
	FromBlock       uint64
	Interval        time.Duration
}

// NewMintWatcher builds a watcher over the given backend and producer.
func NewMintWatcher(backend Backend, producer events.Producer, cfg MintWatcherConfig) *MintWatcher {
	contract := cfg.ContractAddress
	if contract == "" {
		contract = DefaultContractAddress
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &MintWatcher{
		backend:   backend,
		contract:  common.HexToAddress(contract),
		producer:  producer,
		interval:  interval,
		lastBlock: cfg.FromBlock,
	}
}

// Run scans for new mint logs until the context is cancelled.
func (w *MintWatcher) Run(ctx context.Context) error {
	log := logger.Named("mint_watcher")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.scan(ctx); err != nil {
				log.Warn("扫描铸造事件失败", "error", err)
			}
		}
	}
}

func (w *MintWatcher) scan(ctx context.Context) error {
	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return err
	}
	latest := head.Number.Uint64()
	if latest <= w.lastBlock {
		return nil
	}

	query := gethcore.FilterQuery{
		FromBlock: new(big.Int).SetUint64(w.lastBlock + 1),
		ToBlock:   new(big.Int).SetUint64(latest),
		Addresses: []common.Address{w.contract},
		Topics:    [][]common.Hash{{mintEventID()}},
	}
	logs, err := w.backend.FilterLogs(ctx, query)
	if err != nil {
		return err
	}

	for _, entry := range logs {
		to, tokenID, datasetID, parseErr := parseMintLog(entry)
		if parseErr != nil {
			logger.Named("mint_watcher").Warn("忽略无法解析的日志", "error", parseErr)
			continue
		}
		event := events.MintEvent{
			To:          to.Hex(),
			TokenID:     tokenID.Uint64(),
			DatasetID:   datasetID,
			TxHash:      entry.TxHash.Hex(),
			BlockNumber: entry.BlockNumber,
		}
		if err := w.producer.Publish(ctx, event); err != nil {
			// 发布失败时不推进游标，下一轮重扫该区间。
			return err
		}
	}

	w.lastBlock = latest
	return nil
}
