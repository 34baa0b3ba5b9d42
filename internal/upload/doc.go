// Package upload 实现数据集发布流程：校验元数据、上传到后端、为数据集
// 铸造 NFT，并通过事件总线接收链上确认。
package upload
