package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/sweeney/face-trigger/internal/logic"
)

// ErrNotConfigured is returned when required email settings are missing.
var ErrNotConfigured = errors.New("notify: email not configured")

// Gmail's implicit-TLS submission endpoint.
const (
	DefaultHost = "smtp.gmail.com"
	DefaultPort = 465
)

// EmailConfig holds SMTP settings. From defaults to Username.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Timeout  time.Duration
}

// Email sends a plain-text alert with the snapshot attached as JPEG.
type Email struct {
	cfg  EmailConfig
	log  *zap.SugaredLogger
	send func(ctx context.Context, msg *mail.Msg) error
	now  func() time.Time
}

// NewEmail validates cfg and returns a notifier that sends over SMTPS.
func NewEmail(cfg EmailConfig, log *zap.SugaredLogger) (*Email, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Username == "" || cfg.Password == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, ErrNotConfigured
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	e := &Email{cfg: cfg, log: log, now: time.Now}
	e.send = e.dialAndSend
	return e, nil
}

// Message builds the alert for identity seen at at.
func (e *Email) Message(identity logic.Identity, snapshot []byte, at time.Time) (*mail.Msg, error) {
	name := string(identity)

	msg := mail.NewMsg()
	if err := msg.From(e.cfg.From); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(e.cfg.To...); err != nil {
		return nil, fmt.Errorf("set to: %w", err)
	}
	msg.Subject("Face Detected: " + name)
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf("%s detected at %s.", name, at.Format(time.RFC3339)))

	if len(snapshot) > 0 {
		filename := fmt.Sprintf("%s_%d.jpg", name, at.Unix())
		if err := msg.AttachReader(filename, bytes.NewReader(snapshot),
			mail.WithFileContentType(mail.ContentType("image/jpeg"))); err != nil {
			return nil, fmt.Errorf("attach snapshot: %w", err)
		}
	}
	return msg, nil
}

// Notify sends the alert. It is safe for concurrent use.
func (e *Email) Notify(ctx context.Context, identity logic.Identity, snapshot []byte) error {
	msg, err := e.Message(identity, snapshot, e.now())
	if err != nil {
		return err
	}
	if err := e.send(ctx, msg); err != nil {
		return fmt.Errorf("send alert for %s: %w", identity, err)
	}
	e.log.Infow("alert sent", "identity", string(identity), "to", e.cfg.To)
	return nil
}

func (e *Email) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(e.cfg.Host,
		mail.WithPort(e.cfg.Port),
		mail.WithSSL(),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(e.cfg.Username),
		mail.WithPassword(e.cfg.Password),
		mail.WithTimeout(e.cfg.Timeout),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}
