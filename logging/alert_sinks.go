package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Mailer sends a plain-text email. Implemented by mailclient.Client.
type Mailer interface {
	SendMail(ctx context.Context, to []string, subject, body string) error
}

// Messenger posts a message to a chat channel. Implemented by
// telegramclient.Client.
type Messenger interface {
	SendMessage(ctx context.Context, text, parseMode string) error
}

// Publisher publishes a message body under a routing key. Implemented by
// amqpclient.Publisher.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// MailSink emails every record it receives. It is attached at
// SeverityAlert so each alert produces one message.
type MailSink struct {
	mailer    Mailer
	to        []string
	subject   string
	formatter Formatter
}

// NewMailSink creates a sink mailing records to the given recipients.
func NewMailSink(mailer Mailer, to []string, subject string, formatter Formatter) *MailSink {
	if formatter == nil {
		formatter = LineFormatter{}
	}
	return &MailSink{
		mailer:    mailer,
		to:        append([]string(nil), to...),
		subject:   subject,
		formatter: formatter,
	}
}

// Write implements Sink.
func (s *MailSink) Write(ctx context.Context, rec Record) error {
	return s.mailer.SendMail(ctx, s.to, s.subject, s.formatter.Format(rec))
}

// ChannelSink posts records to a chat channel such as a Telegram group.
type ChannelSink struct {
	messenger Messenger
	formatter Formatter
	parseMode string
}

// NewChannelSink creates a sink posting formatted records through messenger.
// parseMode is passed through to the chat API ("HTML" for the Telegram
// formatter, empty for plain text).
func NewChannelSink(messenger Messenger, formatter Formatter, parseMode string) *ChannelSink {
	if formatter == nil {
		formatter = LineFormatter{}
	}
	return &ChannelSink{
		messenger: messenger,
		formatter: formatter,
		parseMode: parseMode,
	}
}

// Write implements Sink.
func (s *ChannelSink) Write(ctx context.Context, rec Record) error {
	return s.messenger.SendMessage(ctx, s.formatter.Format(rec), s.parseMode)
}

// BrokerMessage is the JSON body published by BrokerSink.
type BrokerMessage struct {
	Pipeline    string         `json:"pipeline"`
	Environment string         `json:"environment,omitempty"`
	Severity    string         `json:"severity"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context,omitempty"`
	Time        time.Time      `json:"time"`
}

// BrokerSink publishes records as JSON to a message broker so that other
// services can react to pipeline alerts.
type BrokerSink struct {
	publisher  Publisher
	routingKey string
	env        string
}

// NewBrokerSink creates a sink publishing under routingKey. An empty key
// defaults to "sync.<severity>.<pipeline>".
func NewBrokerSink(publisher Publisher, routingKey, env string) *BrokerSink {
	return &BrokerSink{publisher: publisher, routingKey: routingKey, env: env}
}

// Write implements Sink.
func (s *BrokerSink) Write(ctx context.Context, rec Record) error {
	body, err := json.Marshal(BrokerMessage{
		Pipeline:    rec.Channel,
		Environment: s.env,
		Severity:    rec.Severity.String(),
		Message:     rec.Message,
		Context:     rec.Context,
		Time:        rec.Time,
	})
	if err != nil {
		return fmt.Errorf("encoding broker message: %w", err)
	}

	key := s.routingKey
	if key == "" {
		key = fmt.Sprintf("sync.%s.%s", rec.Severity, rec.Channel)
	}
	return s.publisher.Publish(ctx, key, body)
}
