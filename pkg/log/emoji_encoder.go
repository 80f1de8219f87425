package log

import (
	"fmt"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// emojiMap 日志类型到表情符号的映射
var emojiMap = map[string]string{
	"breaker":      "⚡",
	"queue":        "📦",
	"connector":    "🔗",
	"request":      "🌐",
	"slow_request": "🐌",
	"scheduler":    "🎯",
	"startup":      "🚀",
	"audit":        "📋",
	"database":     "💾",
	"redis":        "🧱",
}

// statusEmoji 根据 HTTP 状态码返回表情符号
func statusEmoji(status int64) string {
	switch {
	case status >= 500:
		return "🔴"
	case status >= 400:
		return "🟠"
	case status >= 300:
		return "🟡"
	default:
		return "🟢"
	}
}

// levelEmoji 没有 type 字段时按日志级别选择表情符号
func levelEmoji(level zapcore.Level) string {
	switch {
	case level >= zapcore.ErrorLevel:
		return "❌"
	case level == zapcore.WarnLevel:
		return "⚠️"
	case level == zapcore.InfoLevel:
		return "ℹ️"
	default:
		return "🐛"
	}
}

// EmojiConsoleEncoder 包装 Zap 的 ConsoleEncoder，在消息前添加表情符号
type EmojiConsoleEncoder struct {
	zapcore.Encoder
}

// NewEmojiConsoleEncoder 创建带表情符号的控制台编码器
func NewEmojiConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: zapcore.NewConsoleEncoder(cfg)}
}

// EncodeEntry 编码日志条目
// 优先级：HTTP status > type 字段 > 日志级别
func (enc *EmojiConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	var logType string
	var status int64

	for _, field := range fields {
		switch {
		case field.Key == "type" && field.Type == zapcore.StringType:
			logType = field.String
		case field.Key == "status" && (field.Type == zapcore.Int64Type || field.Type == zapcore.Int32Type):
			status = field.Integer
		}
	}

	emoji := emojiMap[logType]
	if status > 0 {
		emoji = statusEmoji(status)
	}
	if emoji == "" {
		emoji = levelEmoji(entry.Level)
	}

	entry.Message = emoji + " " + entry.Message
	return enc.Encoder.EncodeEntry(entry, fields)
}

// Clone 克隆编码器（Zap 内部使用）
func (enc *EmojiConsoleEncoder) Clone() zapcore.Encoder {
	return &EmojiConsoleEncoder{Encoder: enc.Encoder.Clone()}
}

// formatDuration 格式化耗时，例如 150ms、2.5s
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000.0)
}
