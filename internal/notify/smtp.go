package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/gifmada/alertd/pkg/config"
)

const signature = "L'équipe GIF Mada."

// SMTP sends plain-text mail, upgrading with STARTTLS when the server
// offers it. Every send is bounded by the caller's context, including
// the wait for the server greeting.
type SMTP struct {
	logger *slog.Logger
	cfg    config.SMTPConfig
}

func NewSMTP(logger *slog.Logger, cfg config.SMTPConfig) *SMTP {
	return &SMTP{
		logger: logger.With(slog.String("component", "notify_smtp")),
		cfg:    cfg,
	}
}

// FromConfig returns the SMTP notifier, or a LogNotifier when no host is set.
func FromConfig(logger *slog.Logger, cfg config.SMTPConfig) Notifier {
	if cfg.Host == "" {
		return NewLogNotifier(logger)
	}
	return NewSMTP(logger, cfg)
}

func (s *SMTP) NotifyNewIncident(ctx context.Context, n NewIncident) error {
	subject := fmt.Sprintf("--- ALERTE DANGER IMMÉDIAT --- Incident d'Urgence #%d", n.IncidentID)
	body := fmt.Sprintf("!!! ATTENTION : ALERTE DANGER IMMÉDIAT !!!\n\n"+
		"Un utilisateur a activé le mode danger. Intervention immédiate requise.\n"+
		"  - Incident d'urgence ID: %d\n"+
		"  - Titre: %s\n"+
		"  - Localisation approximative: Latitude %g, Longitude %g\n\n"+
		"Toutes les unités disponibles sont priées de consulter l'application pour les détails.\n\n"+
		"--- CECI EST UNE ALERTE AUTOMATISÉE DE HAUTE PRIORITÉ ---",
		n.IncidentID, n.Title, n.Latitude, n.Longitude)

	var errs []error
	for _, to := range n.Recipients {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.sendOne(ctx, to, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("notify/smtp: %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

func (s *SMTP) NotifyAssignment(ctx context.Context, a Assignment) error {
	if a.AgentEmail == "" {
		return errors.New("notify/smtp: assignment without agent e-mail")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	subject := fmt.Sprintf("[GIF Mada] Nouvelle Mission Assignée: #%d - %s", a.IncidentID, a.IncidentTitle)
	body := fmt.Sprintf("Bonjour,\n\n"+
		"Une nouvelle mission vous a été assignée.\n"+
		"  - Incident ID: %d\n"+
		"  - Titre de l'incident: %s\n\n"+
		"Veuillez consulter votre tableau de bord pour plus de détails et commencer l'intervention.\n\n"+
		signature,
		a.IncidentID, a.IncidentTitle)
	if err := s.sendOne(ctx, a.AgentEmail, subject, body); err != nil {
		return fmt.Errorf("notify/smtp: %s: %w", a.AgentEmail, err)
	}
	return nil
}

func (s *SMTP) sendOne(ctx context.Context, to, subject, body string) error {
	msg, err := s.message(to, subject, body)
	if err != nil {
		return err
	}
	client, err := s.client(ctx)
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return err
	}
	s.logger.Info("E-mail sent", slog.String("to", to))
	return nil
}

func (s *SMTP) message(to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg(mail.WithEncoding(mail.NoEncoding))
	if err := msg.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

// client is built per send so its timeout follows the caller's deadline.
func (s *SMTP) client(ctx context.Context) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithDialContextFunc(dialUntil(ctx)),
	}
	if s.cfg.Port > 0 {
		opts = append(opts, mail.WithPort(s.cfg.Port))
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			opts = append(opts, mail.WithTimeout(left))
		}
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return mail.NewClient(s.cfg.Host, opts...)
}

// dialUntil ties the connection to ctx: its deadline becomes the I/O
// deadline and cancellation unblocks any pending read or write.
func dialUntil(ctx context.Context) mail.DialContextFunc {
	return func(dialCtx context.Context, network, addr string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(dialCtx, network, addr)
		if err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(deadline)
		}
		context.AfterFunc(ctx, func() {
			_ = conn.SetDeadline(time.Now())
		})
		return conn, nil
	}
}
