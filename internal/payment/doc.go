// Package payment 定义链上支付的请求模型、状态生命周期与适配器接口。
// 具体的以太坊实现位于 payment/ethereum 子包。
package payment
