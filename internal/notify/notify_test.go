package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type failingSink struct{ calls int }

func (f *failingSink) Name() string { return "failing" }

func (f *failingSink) Deliver(context.Context, Notice) error {
	f.calls++
	return errors.New("下游不可用")
}

func TestFanoutDeliversToAllSinks(t *testing.T) {
	buffer := NewBufferSink(8)
	failing := &failingSink{}
	fanout := NewFanout(failing, buffer, nil)

	fanout.Notify(context.Background(), "error", "Payment failed")
	fanout.Notify(context.Background(), "info", "hello")

	if failing.calls != 2 {
		t.Fatalf("失败出口也应收到所有提示: %d", failing.calls)
	}
	notices := buffer.Drain()
	if len(notices) != 2 {
		t.Fatalf("期望缓冲两条提示, 得到 %d", len(notices))
	}
	if notices[0].Level != LevelError || notices[0].Text != "Payment failed" {
		t.Fatalf("提示内容不符: %+v", notices[0])
	}
	if len(buffer.Drain()) != 0 {
		t.Fatalf("Drain 之后缓冲应为空")
	}
}

func TestWebhookSinkPostsNotice(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("期望 POST, 实际 %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析 webhook 请求体失败: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, server.Client())
	err := sink.Deliver(context.Background(), Notice{Level: LevelError, Text: "Payment failed"})
	if err != nil {
		t.Fatalf("投递失败: %v", err)
	}
	if received["text"] != "[error] Payment failed" {
		t.Fatalf("webhook 内容不符: %+v", received)
	}
}

func TestWebhookSinkRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, server.Client())
	if err := sink.Deliver(context.Background(), Notice{Level: LevelInfo, Text: "x"}); err == nil {
		t.Fatalf("非 2xx 状态应报错")
	}
}

func TestBufferSinkDropsOldest(t *testing.T) {
	buffer := NewBufferSink(2)
	for _, text := range []string{"a", "b", "c"} {
		if err := buffer.Deliver(context.Background(), Notice{Level: LevelInfo, Text: text}); err != nil {
			t.Fatalf("投递失败: %v", err)
		}
	}
	notices := buffer.Drain()
	if len(notices) != 2 || notices[0].Text != "b" || notices[1].Text != "c" {
		t.Fatalf("应保留最新的两条: %+v", notices)
	}
}
