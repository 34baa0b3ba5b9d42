package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"Enclava-Chain/sdk/go/enclava"
)

// 演示如何通过 SDK 驱动一轮付费问答。
func main() {
	baseURL := os.Getenv("ENCLAVA_GATEWAY")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	buyer := os.Getenv("ENCLAVA_BUYER")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client, err := enclava.NewClient(baseURL, nil)
	if err != nil {
		log.Fatalf("创建客户端失败: %v", err)
	}

	session, err := client.CreateSession(ctx, buyer)
	if err != nil {
		log.Fatalf("创建会话失败: %v", err)
	}

	session, err = client.SubmitMessage(ctx, session.SessionID, "How did solar output trend last quarter?")
	if err != nil {
		log.Fatalf("提交问题失败: %v", err)
	}
	if len(session.Suggested) == 0 {
		fmt.Println("没有匹配的数据集，换个问题再试试。")
		return
	}

	for _, agent := range session.Suggested {
		fmt.Printf("候选数据集 #%d %s (%s ETH)\n", agent.ID, agent.Name, agent.Price)
	}

	session, err = client.ToggleSelection(ctx, session.SessionID, session.Suggested[0].ID)
	if err != nil {
		log.Fatalf("选择数据集失败: %v", err)
	}

	session, err = client.ConfirmAndPay(ctx, session.SessionID)
	if err != nil {
		log.Fatalf("支付失败: %v", err)
	}
	fmt.Printf("支付完成, 交易哈希: %s\n", session.Payment.TxHash)

	for _, msg := range session.Messages {
		if len(msg.Answers) > 0 {
			for _, answer := range msg.Answers {
				fmt.Printf("数据集 #%d 的洞察: %s\n", answer.AgentID, answer.Response)
			}
		}
	}
}
