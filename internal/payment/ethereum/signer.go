package ethereum

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer abstracts transaction signing so the adapter never touches key
// material directly. An external signer implementation may block inside
// SignTx while waiting for user approval.
type Signer interface {
	Address() common.Address
	SignTx(tx *coretypes.Transaction, chainID *big.Int) (*coretypes.Transaction, error)
}

// LocalSigner signs transactions with an in-process private key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner parses a hex encoded private key.
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("私钥不能为空")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// NewLocalSignerFromEnv reads the private key from an environment variable.
func NewLocalSignerFromEnv(envVar string) (*LocalSigner, error) {
	if envVar == "" {
		return nil, errors.New("未指定私钥环境变量名")
	}
	raw := os.Getenv(envVar)
	if raw == "" {
		return nil, fmt.Errorf("环境变量 %s 未设置", envVar)
	}
	return NewLocalSigner(raw)
}

// Address returns the signing account.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// SignTx signs the transaction for the given chain.
func (s *LocalSigner) SignTx(tx *coretypes.Transaction, chainID *big.Int) (*coretypes.Transaction, error) {
	if chainID == nil {
		return nil, errors.New("未提供链 ID")
	}
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	return signed, nil
}
