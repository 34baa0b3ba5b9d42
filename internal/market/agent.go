package market

import (
	"time"
)

// Status 表示数据集在市场中的上架状态。
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Valid 判断状态是否为已知取值。
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusInactive:
		return true
	}
	return false
}

// Purchasable 表示该状态下的数据集可以被购买。
func (s Status) Purchasable() bool {
	return s == StatusActive
}

// Agent 描述市场中一个可购买的数据集代理，字段与后端返回的 JSON 一致。
type Agent struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Price        Price     `json:"price"`
	OwnerID      int64     `json:"owner_id"`
	OwnerAddress string    `json:"owner_address"`
	DatasetPath  string    `json:"dataset_path"`
	Category     string    `json:"category"`
	DatasetSize  float64   `json:"dataset_size"`
	NFTID        *int64    `json:"nft_id"`
	NFTTx        *string   `json:"nft_tx,omitempty"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Payable 表示该代理已经铸造出对应的 NFT，可以发起链上支付。
func (a Agent) Payable() bool {
	return a.NFTID != nil
}

// TokenID 返回链上代币编号。Payable 为 false 时返回 0。
func (a Agent) TokenID() uint64 {
	if a.NFTID == nil || *a.NFTID < 0 {
		return 0
	}
	return uint64(*a.NFTID)
}

// Categories 列出后端允许的数据集类别。
var Categories = []string{
	"Web3",
	"Financial",
	"Analytics",
	"Healthcare",
	"IoT",
	"Gaming",
	"Consumer Data",
	"Social Media",
	"Environmental",
}

// ValidCategory 判断类别是否在允许列表内。
func ValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}
