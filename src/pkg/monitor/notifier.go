package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/wneessen/go-mail"
)

// Notifier delivers alerts and reports. Callers treat every error as best-effort.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Ensure implementations satisfy Notifier
var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*EmailNotifier)(nil)
	_ Notifier = (MultiNotifier)(nil)
)

// LogNotifier only logs
type LogNotifier struct{}

func (n *LogNotifier) Notify(_ context.Context, subject, body string) error {
	logger.WithField("subject", subject).Warn(body)
	return nil
}

// MultiNotifier fans out to every notifier and joins their errors
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, subject, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendFunc delivers one composed message
type SendFunc func(ctx context.Context, msg *mail.Msg) error

// EmailConfig holds mail settings resolved from the environment
type EmailConfig struct {
	Service  string
	User     string
	Password string
	To       []string
}

// wellKnownServices maps service names to submission endpoints
var wellKnownServices = map[string]string{
	"gmail":   "smtp.gmail.com:587",
	"outlook": "smtp.office365.com:587",
	"hotmail": "smtp.office365.com:587",
	"yahoo":   "smtp.mail.yahoo.com:587",
}

// SMTPAddress resolves a service name or host[:port] to host:port
func SMTPAddress(service string) string {
	if addr, ok := wellKnownServices[strings.ToLower(service)]; ok {
		return addr
	}
	if _, _, err := net.SplitHostPort(service); err == nil {
		return service
	}
	return net.JoinHostPort(service, "587")
}

// EmailNotifier sends mail through SMTP behind a circuit breaker so a dead relay
// stops being retried for every alert
type EmailNotifier struct {
	cfg     EmailConfig
	send    SendFunc
	breaker *gobreaker.CircuitBreaker
}

// NewEmailNotifier creates a new email notifier; a nil send dials the configured relay
func NewEmailNotifier(cfg EmailConfig, send SendFunc) (*EmailNotifier, error) {
	if cfg.Service == "" || cfg.User == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("email notifier needs service, user and at least one recipient")
	}
	if send == nil {
		client, err := newSMTPClient(SMTPAddress(cfg.Service), cfg)
		if err != nil {
			return nil, err
		}
		send = func(ctx context.Context, msg *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		}
	}
	return &EmailNotifier{
		cfg:  cfg,
		send: send,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "smtp",
			MaxRequests: 1,
			Timeout:     5 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.WithField("breaker", name).Infof("Circuit breaker %s -> %s", from, to)
			},
		}),
	}, nil
}

// newSMTPClient authenticates with PLAIN over mandatory TLS; port 465 uses implicit TLS
func newSMTPClient(addr string, cfg EmailConfig) (*mail.Client, error) {
	host, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid smtp address %s: %w", addr, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return nil, fmt.Errorf("invalid smtp port %s: %w", rawPort, err)
	}
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.User),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(30 * time.Second),
	}
	if port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return client, nil
}

func (n *EmailNotifier) Notify(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := n.compose(subject, body)
	if err != nil {
		return err
	}

	_, err = n.breaker.Execute(func() (interface{}, error) {
		return nil, n.send(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to send email %q: %w", subject, err)
	}
	return nil
}

func (n *EmailNotifier) compose(subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(n.cfg.User); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", n.cfg.User, err)
	}
	if err := msg.To(n.cfg.To...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
