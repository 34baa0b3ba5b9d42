// Package notify 把工作流产生的用户提示扇出到多个出口：结构化日志、
// 供网关轮询的内存缓冲，以及可选的外部 webhook。
package notify
