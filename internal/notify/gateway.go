package notify

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Gateway renders and delivers a single event.
type Gateway interface {
	Send(ctx context.Context, ev Event) error
}

// LogGateway writes rendered messages to the log instead of sending them.
type LogGateway struct {
	renderer *Renderer
	log      *zap.Logger
}

func NewLogGateway(renderer *Renderer, log *zap.Logger) *LogGateway {
	return &LogGateway{renderer: renderer, log: log}
}

func (g *LogGateway) Send(_ context.Context, ev Event) error {
	msg, err := g.renderer.Render(ev)
	if err != nil {
		return err
	}
	g.log.Info("notification delivery skipped (log transport)",
		zap.String("event_id", ev.ID.String()),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPGateway sends plain-text mail through an authenticated relay.
type SMTPGateway struct {
	renderer *Renderer
	addr     string
	auth     smtp.Auth
	from     string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPGateway(renderer *Renderer, opts SMTPOptions) *SMTPGateway {
	var auth smtp.Auth
	if opts.Username != "" {
		auth = smtp.PlainAuth("", opts.Username, opts.Password, opts.Host)
	}
	return &SMTPGateway{
		renderer: renderer,
		addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		auth:     auth,
		from:     opts.From,
		sendMail: smtp.SendMail,
	}
}

func (g *SMTPGateway) Send(ctx context.Context, ev Event) error {
	msg, err := g.renderer.Render(ev)
	if err != nil {
		return err
	}

	raw := buildMIME(g.from, msg)

	// net/smtp has no context support; the dispatcher's timeout bounds the wait.
	done := make(chan error, 1)
	go func() {
		done <- g.sendMail(g.addr, g.auth, g.from, []string{msg.To}, raw)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s via %s: %w", msg.To, g.addr, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", msg.To, ctx.Err())
	}
}

func buildMIME(from string, msg Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + headerValue(from) + "\r\n")
	b.WriteString("To: " + headerValue(msg.To) + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", headerValue(msg.Subject)) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return []byte(b.String())
}

// headerValue folds line breaks into spaces; header values come from
// profile data and must stay on one line.
func headerValue(v string) string {
	return strings.Join(strings.FieldsFunc(v, func(r rune) bool { return r == '\r' || r == '\n' }), " ")
}

// Publisher is the subset of *amqp.Channel the AMQP gateway needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPGateway publishes rendered messages to a queue consumed by the mail relay.
type AMQPGateway struct {
	renderer *Renderer
	ch       Publisher
	queue    string
}

func NewAMQPGateway(renderer *Renderer, ch Publisher, queue string) *AMQPGateway {
	return &AMQPGateway{renderer: renderer, ch: ch, queue: queue}
}

type amqpEnvelope struct {
	EventID       string `json:"event_id"`
	AppointmentID string `json:"appointment_id"`
	Kind          Kind   `json:"kind"`
	Message
}

func (g *AMQPGateway) Send(ctx context.Context, ev Event) error {
	msg, err := g.renderer.Render(ev)
	if err != nil {
		return err
	}

	body, err := json.Marshal(amqpEnvelope{
		EventID:       ev.ID.String(),
		AppointmentID: ev.AppointmentID.String(),
		Kind:          ev.Kind,
		Message:       msg,
	})
	if err != nil {
		return fmt.Errorf("encode amqp message: %w", err)
	}

	err = g.ch.PublishWithContext(ctx, "", g.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    ev.ID.String(),
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", g.queue, err)
	}
	return nil
}

// DialAMQP opens a connection and channel and declares the durable queue.
func DialAMQP(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return conn, ch, nil
}
