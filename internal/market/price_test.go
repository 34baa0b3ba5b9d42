package market

import (
	"encoding/json"
	"testing"
)

func TestPriceUnmarshalKeepsLexicalForm(t *testing.T) {
	var agent Agent
	payload := []byte(`{"id":1,"name":"demo","price":0.1,"status":"active"}`)
	if err := json.Unmarshal(payload, &agent); err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if agent.Price != "0.1" {
		t.Fatalf("期望价格保留字面量 0.1, 实际 %q", agent.Price)
	}
}

func TestPriceValidate(t *testing.T) {
	if err := Price("12.5").Validate(); err != nil {
		t.Fatalf("合法价格不应报错: %v", err)
	}
	if err := Price("-1").Validate(); err == nil {
		t.Fatalf("负数价格应当报错")
	}
	if err := Price("abc").Validate(); err == nil {
		t.Fatalf("非数字价格应当报错")
	}
	if err := Price("").Validate(); err == nil {
		t.Fatalf("空价格应当报错")
	}
}

func TestSumPricesExact(t *testing.T) {
	total, err := SumPrices([]Price{"0.1", "0.2"})
	if err != nil {
		t.Fatalf("累加失败: %v", err)
	}
	if total != "0.3" {
		t.Fatalf("期望 0.3, 实际 %q", total)
	}

	total, err = SumPrices([]Price{"1", "2", "3"})
	if err != nil {
		t.Fatalf("累加失败: %v", err)
	}
	if total != "6" {
		t.Fatalf("期望 6, 实际 %q", total)
	}
}

func TestAgentPayable(t *testing.T) {
	var agent Agent
	if agent.Payable() {
		t.Fatalf("未铸造 NFT 的代理不应可支付")
	}
	id := int64(42)
	agent.NFTID = &id
	if !agent.Payable() {
		t.Fatalf("已铸造 NFT 的代理应当可支付")
	}
	if agent.TokenID() != 42 {
		t.Fatalf("期望 token id 42, 实际 %d", agent.TokenID())
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusActive, StatusInactive} {
		if !s.Valid() {
			t.Fatalf("状态 %q 应当合法", s)
		}
	}
	if Status("archived").Valid() {
		t.Fatalf("未知状态不应合法")
	}
	if !StatusActive.Purchasable() {
		t.Fatalf("active 状态应当可购买")
	}
	if StatusPending.Purchasable() {
		t.Fatalf("pending 状态不应可购买")
	}
}
