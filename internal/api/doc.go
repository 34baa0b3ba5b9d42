// Package api 暴露 REST 网关：会话工作流、市场代理、用户画像、
// 购买流水、数据集发布与 /metrics。
package api
