package purchase

import (
	"context"
	"testing"

	"Enclava-Chain/internal/chat"
)

func TestMemoryRepositoryRecordAndList(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first := &Purchase{
		Buyer:    "0xbuyer",
		AgentIDs: []int64{1, 2},
		TokenIDs: []uint64{101, 102},
		TotalWei: "3000000000000000000",
		TxHash:   "0x01",
	}
	if err := repo.Record(ctx, first); err != nil {
		t.Fatalf("记录失败: %v", err)
	}
	if first.ID == 0 {
		t.Fatalf("应回填流水编号")
	}

	if err := repo.Record(ctx, &Purchase{Buyer: "0xother", TxHash: "0x02"}); err != nil {
		t.Fatalf("记录失败: %v", err)
	}

	list, err := repo.ListByBuyer(ctx, "0xbuyer", 10)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(list) != 1 || list[0].TxHash != "0x01" {
		t.Fatalf("查询结果不符: %+v", list)
	}

	all, err := repo.ListByBuyer(ctx, "", 10)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(all) != 2 || all[0].TxHash != "0x02" {
		t.Fatalf("应按时间倒序返回全部流水: %+v", all)
	}
}

func TestMemoryRepositoryRejectsDuplicateTxHash(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	if err := repo.Record(ctx, &Purchase{TxHash: "0x01"}); err != nil {
		t.Fatalf("记录失败: %v", err)
	}
	if err := repo.Record(ctx, &Purchase{TxHash: "0x01"}); err == nil {
		t.Fatalf("重复交易哈希应当报错")
	}
	if err := repo.Record(ctx, &Purchase{}); err == nil {
		t.Fatalf("缺少交易哈希应当报错")
	}
}

func TestWorkflowRecorder(t *testing.T) {
	repo := NewMemoryRepository()
	recorder := WorkflowRecorder{Repo: repo}

	err := recorder.Record(context.Background(), chat.PurchaseRecord{
		Buyer:    "0xbuyer",
		AgentIDs: []int64{5},
		TokenIDs: []uint64{105},
		TotalWei: "1",
		TxHash:   "0xaa",
	})
	if err != nil {
		t.Fatalf("转发失败: %v", err)
	}
	list, _ := repo.ListByBuyer(context.Background(), "0xbuyer", 1)
	if len(list) != 1 || list[0].TokenIDs[0] != 105 {
		t.Fatalf("流水未落库: %+v", list)
	}
}
