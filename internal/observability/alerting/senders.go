package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// defaultWebhookTimeout 限制单次 webhook 投递的耗时，告警不应拖慢主流程。
const defaultWebhookTimeout = 10 * time.Second

// DingTalkWebhook 将告警文本投递到钉钉机器人 webhook。
type DingTalkWebhook struct {
	URL    string
	Client *http.Client
}

// Send 实现 DingTalkSender。
func (s *DingTalkWebhook) Send(ctx context.Context, content string) error {
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return postJSON(ctx, s.Client, s.URL, payload)
}

// SlackWebhook 将告警文本投递到 Slack incoming webhook。
type SlackWebhook struct {
	URL    string
	Client *http.Client
}

// Send 实现 SlackSender。channel 为空时由 webhook 自身的默认频道接收。
func (s *SlackWebhook) Send(ctx context.Context, channel, content string) error {
	payload := map[string]string{"text": content}
	if channel != "" {
		payload["channel"] = channel
	}
	return postJSON(ctx, s.Client, s.URL, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	if url == "" {
		return fmt.Errorf("webhook url 不能为空")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("编码 webhook 负载失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造 webhook 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("投递 webhook 失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 返回状态 %d", resp.StatusCode)
	}
	return nil
}

// SMTPEmailSender 通过普通 SMTP 端点发送告警邮件。
type SMTPEmailSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Send 实现 EmailSender。
func (s *SMTPEmailSender) Send(ctx context.Context, subject, content string, to []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Host == "" || s.From == "" || len(to) == 0 {
		return fmt.Errorf("SMTP 配置不完整")
	}
	port := s.Port
	if port <= 0 {
		port = 25
	}
	var auth smtp.Auth
	if s.Username != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}
	addr := net.JoinHostPort(s.Host, strconv.Itoa(port))
	return smtp.SendMail(addr, auth, s.From, to, s.message(subject, content, to))
}

// message 组装一封最简的纯文本邮件。
func (s *SMTPEmailSender) message(subject, content string, to []string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(content)
	return []byte(b.String())
}
