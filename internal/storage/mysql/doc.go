// Package mysql 提供购买流水的 MySQL 存储实现，并负责执行嵌入的
// SQL 迁移脚本。
package mysql
