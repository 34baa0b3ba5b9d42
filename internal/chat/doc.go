// Package chat 实现付费问答的工作流状态机：提问、候选数据集选择、链上
// 支付与答案取回构成一次循环，循环结束回到初始阶段。Manager 在网关内
// 承载多个互相独立的会话。
package chat
