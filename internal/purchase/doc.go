// Package purchase 定义购买流水的领域模型与存储接口。内存实现用于测试
// 与单机部署，MySQL 实现位于 internal/storage/mysql。
package purchase
