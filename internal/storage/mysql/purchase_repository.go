package mysql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"Enclava-Chain/internal/purchase"
)

// SQLPurchaseRepository 使用 MySQL 持久化购买流水。
type SQLPurchaseRepository struct {
	db *sql.DB
}

// NewSQLPurchaseRepository 创建连接池并执行迁移。
func NewSQLPurchaseRepository(ctx context.Context, cfg Config) (*SQLPurchaseRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	repo := &SQLPurchaseRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Record 将一笔购买及其条目写入 MySQL。主表与条目表在同一事务内落库。
func (s *SQLPurchaseRepository) Record(ctx context.Context, p *purchase.Purchase) error {
	if p == nil {
		return fmt.Errorf("purchase 不能为空")
	}
	if p.TxHash == "" {
		return fmt.Errorf("交易哈希不能为空")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启购买事务失败: %w", err)
	}

	result, err := tx.ExecContext(ctx, `INSERT INTO purchases (buyer, total_wei, tx_hash, created_at) VALUES (?, ?, ?, ?)`,
		p.Buyer, p.TotalWei, p.TxHash, p.CreatedAt)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("写入购买流水失败: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("获取流水编号失败: %w", err)
	}

	for i, agentID := range p.AgentIDs {
		var tokenID uint64
		if i < len(p.TokenIDs) {
			tokenID = p.TokenIDs[i]
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO purchase_items (purchase_id, agent_id, token_id) VALUES (?, ?, ?)`,
			id, agentID, tokenID); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入购买条目失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交购买事务失败: %w", err)
	}
	p.ID = id
	return nil
}

// ListByBuyer 查询买家最近的购买流水，按时间倒序。buyer 为空时返回全部。
func (s *SQLPurchaseRepository) ListByBuyer(ctx context.Context, buyer string, limit int) ([]*purchase.Purchase, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, buyer, total_wei, tx_hash, created_at FROM purchases`
	args := []any{}
	if buyer != "" {
		query += ` WHERE buyer = ?`
		args = append(args, buyer)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询购买流水失败: %w", err)
	}
	defer rows.Close()

	var purchases []*purchase.Purchase
	for rows.Next() {
		p := &purchase.Purchase{}
		if err := rows.Scan(&p.ID, &p.Buyer, &p.TotalWei, &p.TxHash, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析购买流水失败: %w", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历购买流水失败: %w", err)
	}

	for _, p := range purchases {
		if err := s.loadItems(ctx, p); err != nil {
			return nil, err
		}
	}
	return purchases, nil
}

func (s *SQLPurchaseRepository) loadItems(ctx context.Context, p *purchase.Purchase) error {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_id, token_id FROM purchase_items WHERE purchase_id = ? ORDER BY id ASC`, p.ID)
	if err != nil {
		return fmt.Errorf("查询购买条目失败: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var agentID int64
		var tokenID uint64
		if err := rows.Scan(&agentID, &tokenID); err != nil {
			return fmt.Errorf("解析购买条目失败: %w", err)
		}
		p.AgentIDs = append(p.AgentIDs, agentID)
		p.TokenIDs = append(p.TokenIDs, tokenID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("遍历购买条目失败: %w", err)
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *SQLPurchaseRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ purchase.Repository = (*SQLPurchaseRepository)(nil)
