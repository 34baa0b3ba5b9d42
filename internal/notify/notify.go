package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"Enclava-Chain/pkg/logger"
)

// Level 表示提示的级别，与前端 toast 的样式对应。
type Level string

// 支持的提示级别
const (
	LevelInfo    Level = "info"
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// Notice 描述一条面向用户的提示。
type Notice struct {
	Level     Level     `json:"level"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink 负责将提示投递到某个出口。
type Sink interface {
	Name() string
	Deliver(ctx context.Context, notice Notice) error
}

// Fanout 将提示广播给所有注册的出口。投递失败只记录日志，
// 不影响支付与问答主流程。
type Fanout struct {
	sinks []Sink
}

// NewFanout 创建一个 Fanout。
func NewFanout(sinks ...Sink) *Fanout {
	set := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		set = append(set, s)
	}
	return &Fanout{sinks: set}
}

// Notify 实现 chat.Notifier。
func (f *Fanout) Notify(ctx context.Context, level, text string) {
	if f == nil {
		return
	}
	notice := Notice{Level: Level(level), Text: text, CreatedAt: time.Now()}
	for _, sink := range f.sinks {
		if err := sink.Deliver(ctx, notice); err != nil {
			logger.L().Warn("提示投递失败",
				slog.String("sink", sink.Name()),
				slog.String("error", err.Error()))
		}
	}
}

// LogSink 把提示写进结构化日志，是最基础的出口。
type LogSink struct{}

// Name 返回出口名称。
func (LogSink) Name() string { return "log" }

// Deliver 按级别记录提示。
func (LogSink) Deliver(_ context.Context, notice Notice) error {
	switch notice.Level {
	case LevelError:
		logger.L().Warn("用户提示", slog.String("text", notice.Text))
	default:
		logger.L().Info("用户提示", slog.String("text", notice.Text))
	}
	return nil
}

// BufferSink 在内存里保留最近的提示，供网关轮询接口取走。
type BufferSink struct {
	mu      sync.Mutex
	notices []Notice
	limit   int
}

// NewBufferSink 创建一个容量受限的 BufferSink。
func NewBufferSink(limit int) *BufferSink {
	if limit <= 0 {
		limit = 64
	}
	return &BufferSink{limit: limit}
}

// Name 返回出口名称。
func (b *BufferSink) Name() string { return "buffer" }

// Deliver 追加提示，超出容量时丢弃最旧的。
func (b *BufferSink) Deliver(_ context.Context, notice Notice) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, notice)
	if len(b.notices) > b.limit {
		b.notices = b.notices[len(b.notices)-b.limit:]
	}
	return nil
}

// Drain 取走并清空当前积压的提示。
func (b *BufferSink) Drain() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.notices
	b.notices = nil
	return out
}

// Poster 定义向外部渠道推送文本所需的能力。
type Poster interface {
	Post(ctx context.Context, content string) error
}

// WebhookSink 将提示推送到外部 webhook，例如运维值班群。
type WebhookSink struct {
	Poster Poster
}

// NewWebhookSink 创建指向单个 webhook 地址的出口。
func NewWebhookSink(url string, client *http.Client) WebhookSink {
	if client == nil {
		client = http.DefaultClient
	}
	return WebhookSink{Poster: httpPoster{url: url, client: client}}
}

// Name 返回出口名称。
func (WebhookSink) Name() string { return "webhook" }

// Deliver 推送提示文本。
func (s WebhookSink) Deliver(ctx context.Context, notice Notice) error {
	if s.Poster == nil {
		return nil
	}
	return s.Poster.Post(ctx, fmt.Sprintf("[%s] %s", notice.Level, notice.Text))
}

// httpPoster 以 JSON 形式 POST 到 webhook 地址。
type httpPoster struct {
	url    string
	client *http.Client
}

func (p httpPoster) Post(ctx context.Context, content string) error {
	payload, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook 返回状态 %d", resp.StatusCode)
	}
	return nil
}
