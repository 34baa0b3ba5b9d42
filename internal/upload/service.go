package upload

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"Enclava-Chain/internal/backend"
	xerrors "Enclava-Chain/internal/errors"
	"Enclava-Chain/internal/market"
	"Enclava-Chain/pkg/logger"
)

// 后端 dataset_price 字段的取值范围。
const (
	MinPrice = 1
	MaxPrice = 5_800_000
)

// Status 表示一次发布的生命周期。
type Status string

// 发布状态
const (
	StatusUploaded Status = "uploaded"
	StatusMinting  Status = "minting"
	StatusMinted   Status = "minted"
)

// Record 是发布流程在网关内的跟踪记录。
type Record struct {
	DatasetID int64  `json:"dataset_id"`
	Name      string `json:"name"`
	Owner     string `json:"owner"`
	Status    Status `json:"status"`
	MintTx    string `json:"mint_tx,omitempty"`
	TokenID   uint64 `json:"token_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Client 是发布流程依赖的后端能力。
type Client interface {
	UploadDataset(ctx context.Context, req backend.UploadRequest) (backend.UploadResult, error)
	GenerateDatasetDetails(ctx context.Context, filename string, file io.Reader) (backend.GeneratedDetails, error)
}

// Minter 为数据集铸造 NFT 并返回交易哈希。
type Minter interface {
	Mint(ctx context.Context, to string, datasetID string) (string, error)
}

// Request 是发布一个数据集所需的全部输入。
type Request struct {
	Name        string
	Description string
	Category    string
	Price       market.Price
	OwnerAddr   string
	Filename    string
	File        io.Reader
}

// Service 串起校验、上传与铸造三步。
type Service struct {
	client Client
	minter Minter

	mu      sync.RWMutex
	pending map[string]*Record
}

// NewService 创建发布服务。minter 可以为空，此时只上传不铸造。
func NewService(client Client, minter Minter) *Service {
	return &Service{
		client:  client,
		minter:  minter,
		pending: make(map[string]*Record),
	}
}

// Validate 检查发布请求的元数据。
func (r Request) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return xerrors.New(xerrors.CodeValidation, "数据集名称不能为空")
	}
	if !market.ValidCategory(r.Category) {
		return xerrors.New(xerrors.CodeValidation, "数据集分类不合法",
			xerrors.WithMetadata("category", r.Category))
	}
	if !strings.HasSuffix(strings.ToLower(r.Filename), ".csv") {
		return xerrors.New(xerrors.CodeValidation, "只支持上传 CSV 文件",
			xerrors.WithMetadata("filename", r.Filename))
	}
	if r.OwnerAddr == "" {
		return xerrors.New(xerrors.CodeWalletNotConnected, "")
	}
	rat, err := r.Price.Rat()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "价格格式不合法")
	}
	if rat.Cmp(big.NewRat(MinPrice, 1)) < 0 || rat.Cmp(big.NewRat(MaxPrice, 1)) > 0 {
		return xerrors.New(xerrors.CodeValidation, "价格超出允许范围",
			xerrors.WithMetadata("price", r.Price.String()))
	}
	if r.File == nil {
		return xerrors.New(xerrors.CodeValidation, "缺少数据集文件")
	}
	return nil
}

// GenerateDetails 让后端基于样本生成名称、描述与分类建议。
func (s *Service) GenerateDetails(ctx context.Context, filename string, file io.Reader) (backend.GeneratedDetails, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		return backend.GeneratedDetails{}, xerrors.New(xerrors.CodeValidation, "只支持上传 CSV 文件")
	}
	return s.client.GenerateDatasetDetails(ctx, filename, file)
}

// Publish 上传数据集并发起 NFT 铸造。返回的记录里 Status 为 minting
// 时，铸造结果由 Tracker 异步补齐。
func (s *Service) Publish(ctx context.Context, req Request) (*Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	result, err := s.client.UploadDataset(ctx, backend.UploadRequest{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		UserAddress: req.OwnerAddr,
		Filename:    req.Filename,
		File:        req.File,
	})
	if err != nil {
		return nil, err
	}

	record := &Record{
		DatasetID: result.DatasetID,
		Name:      req.Name,
		Owner:     req.OwnerAddr,
		Status:    StatusUploaded,
		CreatedAt: time.Now().Unix(),
	}
	datasetKey := strconv.FormatInt(result.DatasetID, 10)

	if s.minter != nil {
		txHash, err := s.minter.Mint(ctx, req.OwnerAddr, datasetKey)
		if err != nil {
			// 上传已经成功，铸造失败只记录，允许后续重试。
			logger.L().Warn("数据集铸造提交失败",
				slog.Int64("dataset_id", result.DatasetID),
				slog.String("error", err.Error()))
			s.track(datasetKey, record)
			return record, nil
		}
		record.Status = StatusMinting
		record.MintTx = txHash
	}

	s.track(datasetKey, record)
	logger.Audit().Info("数据集发布",
		slog.Int64("dataset_id", result.DatasetID),
		slog.String("owner", req.OwnerAddr),
		slog.String("status", string(record.Status)))
	return record, nil
}

// RetryMint 对上传成功但尚未铸造的数据集重新发起铸造。
func (s *Service) RetryMint(ctx context.Context, datasetID int64) (*Record, error) {
	if s.minter == nil {
		return nil, xerrors.New(xerrors.CodeInitialization, "未配置铸造能力")
	}
	datasetKey := strconv.FormatInt(datasetID, 10)

	s.mu.RLock()
	record, ok := s.pending[datasetKey]
	s.mu.RUnlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, "发布记录不存在")
	}
	if record.Status != StatusUploaded {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "当前状态无需重新铸造")
	}

	txHash, err := s.minter.Mint(ctx, record.Owner, datasetKey)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	record.Status = StatusMinting
	record.MintTx = txHash
	clone := *record
	s.mu.Unlock()
	return &clone, nil
}

// Pending 返回指定数据集的跟踪记录。
func (s *Service) Pending(datasetID int64) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.pending[strconv.FormatInt(datasetID, 10)]
	if !ok {
		return nil, false
	}
	clone := *record
	return &clone, true
}

// Records 返回全部跟踪记录，按创建时间无序。
func (s *Service) Records() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.pending))
	for _, record := range s.pending {
		clone := *record
		out = append(out, &clone)
	}
	return out
}

func (s *Service) track(datasetKey string, record *Record) {
	s.mu.Lock()
	s.pending[datasetKey] = record
	s.mu.Unlock()
}

// resolve 用链上确认补齐记录，由 Tracker 调用。
func (s *Service) resolve(datasetKey string, tokenID uint64, txHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.pending[datasetKey]
	if !ok {
		return false
	}
	record.Status = StatusMinted
	record.TokenID = tokenID
	if txHash != "" {
		record.MintTx = txHash
	}
	return true
}
