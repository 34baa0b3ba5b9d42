package ethereum

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// DefaultContractAddress is the deployed dataset NFT contract.
const DefaultContractAddress = "0x015C507e3E79D5049b003C3bE5b2E208A4Bb7e56"

// datasetABIJSON covers the subset of the dataset NFT contract the gateway
// interacts with.
const datasetABIJSON = `[
  {
    "type": "function",
    "name": "payForMultipleDatasets",
    "stateMutability": "payable",
    "inputs": [
      {"name": "tokenIds", "type": "uint256[]"},
      {"name": "amounts", "type": "uint256[]"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "safeMint",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "to", "type": "address"},
      {"name": "datasetId", "type": "string"}
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getTotalEarnedByOwner",
    "stateMutability": "view",
    "inputs": [{"name": "owner", "type": "address"}],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "type": "event",
    "name": "DatasetNFTMinted",
    "anonymous": false,
    "inputs": [
      {"name": "to", "type": "address", "indexed": true},
      {"name": "tokenId", "type": "uint256", "indexed": true},
      {"name": "datasetId", "type": "string", "indexed": false}
    ]
  }
]`

var datasetABI = mustParseABI(datasetABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("解析数据集合约 ABI 失败: %v", err))
	}
	return parsed
}

// packPayForDatasets builds the calldata for a batched dataset purchase.
func packPayForDatasets(tokenIDs []uint64, amounts []*big.Int) ([]byte, error) {
	ids := make([]*big.Int, len(tokenIDs))
	for i, id := range tokenIDs {
		ids[i] = new(big.Int).SetUint64(id)
	}
	data, err := datasetABI.Pack("payForMultipleDatasets", ids, amounts)
	if err != nil {
		return nil, fmt.Errorf("编码购买调用失败: %w", err)
	}
	return data, nil
}

// packSafeMint builds the calldata minting a dataset NFT to its owner.
func packSafeMint(to common.Address, datasetID string) ([]byte, error) {
	data, err := datasetABI.Pack("safeMint", to, datasetID)
	if err != nil {
		return nil, fmt.Errorf("编码铸造调用失败: %w", err)
	}
	return data, nil
}

// packTotalEarned builds the calldata for the owner earnings query.
func packTotalEarned(owner common.Address) ([]byte, error) {
	data, err := datasetABI.Pack("getTotalEarnedByOwner", owner)
	if err != nil {
		return nil, fmt.Errorf("编码收益查询失败: %w", err)
	}
	return data, nil
}

// unpackTotalEarned decodes the earnings query result.
func unpackTotalEarned(output []byte) (*big.Int, error) {
	values, err := datasetABI.Unpack("getTotalEarnedByOwner", output)
	if err != nil {
		return nil, fmt.Errorf("解码收益查询结果失败: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("收益查询返回值数量异常: %d", len(values))
	}
	earned, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("收益查询返回值类型异常: %T", values[0])
	}
	return earned, nil
}

// mintEventID returns the topic hash of DatasetNFTMinted.
func mintEventID() common.Hash {
	return datasetABI.Events["DatasetNFTMinted"].ID
}

// parseMintLog decodes a DatasetNFTMinted log entry.
func parseMintLog(entry coretypes.Log) (to common.Address, tokenID *big.Int, datasetID string, err error) {
	if len(entry.Topics) != 3 {
		return common.Address{}, nil, "", fmt.Errorf("铸造事件 topic 数量异常: %d", len(entry.Topics))
	}
	to = common.BytesToAddress(entry.Topics[1].Bytes())
	tokenID = new(big.Int).SetBytes(entry.Topics[2].Bytes())

	values, err := datasetABI.Events["DatasetNFTMinted"].Inputs.NonIndexed().Unpack(entry.Data)
	if err != nil {
		return common.Address{}, nil, "", fmt.Errorf("解码铸造事件失败: %w", err)
	}
	if len(values) != 1 {
		return common.Address{}, nil, "", fmt.Errorf("铸造事件数据字段数量异常: %d", len(values))
	}
	datasetID, ok := values[0].(string)
	if !ok {
		return common.Address{}, nil, "", fmt.Errorf("铸造事件数据字段类型异常: %T", values[0])
	}
	return to, tokenID, datasetID, nil
}
