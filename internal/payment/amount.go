package payment

import (
	"fmt"
	"math/big"
	"strings"

	xerrors "Enclava-Chain/internal/errors"
	"Enclava-Chain/internal/market"
)

// WeiDecimals 是原生币的小数位数。
const WeiDecimals = 18

// ScaleToWei 将十进制展示金额精确换算为 wei。金额按字面量逐位解析，
// 超过 18 位小数或含非法字符都会报错，绝不经过浮点数。
func ScaleToWei(amount market.Price) (*big.Int, error) {
	text := strings.TrimSpace(amount.String())
	if text == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "金额为空")
	}
	if strings.HasPrefix(text, "-") {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("金额不能为负数: %q", text))
	}
	text = strings.TrimPrefix(text, "+")

	intPart := text
	fracPart := ""
	if dot := strings.IndexByte(text, '.'); dot >= 0 {
		intPart = text[:dot]
		fracPart = text[dot+1:]
	}
	if intPart == "" && fracPart == "" {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("金额不是合法的十进制数: %q", text))
	}
	if len(fracPart) > WeiDecimals {
		return nil, xerrors.New(xerrors.CodeValidation,
			fmt.Sprintf("金额小数位超过 %d 位: %q", WeiDecimals, text))
	}
	if intPart == "" {
		intPart = "0"
	}
	// 补齐到 18 位小数后拼成整数字面量
	padded := fracPart + strings.Repeat("0", WeiDecimals-len(fracPart))
	wei, ok := new(big.Int).SetString(intPart+padded, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("金额不是合法的十进制数: %q", text))
	}
	return wei, nil
}

// TotalWei 逐项换算后求和，保证总额与逐项之和严格一致。
func TotalWei(amounts []market.Price) (*big.Int, []*big.Int, error) {
	total := new(big.Int)
	each := make([]*big.Int, 0, len(amounts))
	for _, amount := range amounts {
		wei, err := ScaleToWei(amount)
		if err != nil {
			return nil, nil, err
		}
		each = append(each, wei)
		total.Add(total, wei)
	}
	return total, each, nil
}
