package market

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Price 以原始十进制文本保存金额（原生币计价）。后端以 JSON number
// 传输价格，这里保留字面量而不是转成 float64，定点换算才能做到精确。
type Price string

// UnmarshalJSON 同时接受 JSON number 和字符串两种形式。
func (p *Price) UnmarshalJSON(data []byte) error {
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("价格字段格式无效: %s", string(data))
		}
		num = json.Number(s)
	}
	*p = Price(num.String())
	return nil
}

// MarshalJSON 将合法的价格输出为 JSON number，保持后端的传输形式。
func (p Price) MarshalJSON() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return []byte(string(p)), nil
}

func (p Price) String() string {
	return string(p)
}

// Rat 返回精确的有理数表示。
func (p Price) Rat() (*big.Rat, error) {
	text := strings.TrimSpace(string(p))
	if text == "" {
		return nil, fmt.Errorf("价格为空")
	}
	rat, ok := new(big.Rat).SetString(text)
	if !ok {
		return nil, fmt.Errorf("价格不是合法的十进制数: %q", text)
	}
	return rat, nil
}

// Validate 校验价格是合法且非负的十进制数。
func (p Price) Validate() error {
	rat, err := p.Rat()
	if err != nil {
		return err
	}
	if rat.Sign() < 0 {
		return fmt.Errorf("价格不能为负数: %q", string(p))
	}
	return nil
}

// SumPrices 精确累加一组价格，返回十进制文本形式的总额。
func SumPrices(prices []Price) (Price, error) {
	total := new(big.Rat)
	for _, p := range prices {
		rat, err := p.Rat()
		if err != nil {
			return "", err
		}
		total.Add(total, rat)
	}
	return Price(formatRat(total)), nil
}

// formatRat 输出不带多余尾零的十进制文本。
func formatRat(rat *big.Rat) string {
	if rat.IsInt() {
		return rat.Num().String()
	}
	text := rat.FloatString(18)
	text = strings.TrimRight(text, "0")
	text = strings.TrimSuffix(text, ".")
	return text
}
