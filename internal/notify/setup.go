package notify

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hackgods/coaching-appointment-scheduling/internal/config"
)

// NewGateway picks the delivery transport named in cfg. The returned close
// function releases any connection the gateway holds and is never nil.
func NewGateway(cfg config.NotifyConfig, log *zap.Logger) (Gateway, func() error, error) {
	renderer := NewRenderer()
	noop := func() error { return nil }

	switch cfg.Transport {
	case "", "log":
		return NewLogGateway(renderer, log), noop, nil

	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, noop, fmt.Errorf("SMTP_HOST is required for smtp transport")
		}
		return NewSMTPGateway(renderer, SMTPOptions{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}), noop, nil

	case "amqp":
		conn, ch, err := DialAMQP(cfg.RabbitMQURL, cfg.RabbitMQQueue)
		if err != nil {
			return nil, noop, err
		}
		closeFn := func() error {
			_ = ch.Close()
			return conn.Close()
		}
		return NewAMQPGateway(renderer, ch, cfg.RabbitMQQueue), closeFn, nil
	}

	return nil, noop, fmt.Errorf("unknown notification transport %q", cfg.Transport)
}
