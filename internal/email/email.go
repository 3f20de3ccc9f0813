// Package email notifies participants of marketplace events via Mailgun.
package email

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mailgun/mailgun-go/v4"

	"github.com/indocomsoft/acquity/internal/config"
)

type template struct {
	subject string
	text    string
}

var templates = map[string]template{
	"round_opened": {
		subject: "Round has opened",
		text:    "Place your bids/offers!",
	},
	"match_done_has_match": {
		subject: "You got a match!",
		text:    "Open Acquity to check your matches.",
	},
	"match_done_no_match": {
		subject: "No match!",
		text:    "Your price might be too high/low! Try again.",
	},
	"create_buy_order": {
		subject: "Your bid has been created",
		text:    "Your bid has been created! Please wait until the round ends.",
	},
	"create_sell_order": {
		subject: "Your ask has been created",
		text:    "Your ask has been created! Please wait until the round ends.",
	},
	"edit_buy_order": {
		subject: "Your bid has been edited",
		text:    "Your bid has been edited! Please wait until the round ends.",
	},
	"edit_sell_order": {
		subject: "Your ask has been edited",
		text:    "Your ask has been edited! Please wait until the round ends.",
	},
}

// EmailStore resolves user ids to email addresses.
type EmailStore interface {
	GetUserEmails(ctx context.Context, ids []uuid.UUID) ([]string, error)
	GetAllUserEmails(ctx context.Context) ([]string, error)
}

// Service sends templated notification emails. With Mailgun disabled in the
// configuration every send is a no-op, which is the default for development.
type Service struct {
	cfg   *config.Config
	store EmailStore
	mg    mailgun.Mailgun
	log   *slog.Logger
}

func NewService(cfg *config.Config, store EmailStore, log *slog.Logger) *Service {
	s := &Service{cfg: cfg, store: store, log: log}
	if cfg.MailgunEnable {
		s.mg = mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey)
	}
	return s
}

// RoundOpened emails every registered user that a round has started.
func (s *Service) RoundOpened(ctx context.Context) {
	emails, err := s.store.GetAllUserEmails(ctx)
	if err != nil {
		s.log.Error("failed to load recipient emails", "error", err)
		return
	}
	s.send(ctx, emails, "round_opened")
}

// MatchOutcome emails matched and unmatched participants their outcome.
func (s *Service) MatchOutcome(ctx context.Context, matched, unmatched []uuid.UUID) {
	if emails, err := s.store.GetUserEmails(ctx, matched); err != nil {
		s.log.Error("failed to load matched emails", "error", err)
	} else {
		s.send(ctx, emails, "match_done_has_match")
	}

	if emails, err := s.store.GetUserEmails(ctx, unmatched); err != nil {
		s.log.Error("failed to load unmatched emails", "error", err)
	} else {
		s.send(ctx, emails, "match_done_no_match")
	}
}

// OrderPlaced confirms order creation to its owner.
func (s *Service) OrderPlaced(ctx context.Context, userID uuid.UUID, side string) {
	emails, err := s.store.GetUserEmails(ctx, []uuid.UUID{userID})
	if err != nil {
		s.log.Error("failed to load order owner email", "error", err)
		return
	}
	s.send(ctx, emails, "create_"+side+"_order")
}

// OrderEdited confirms an order edit to its owner.
func (s *Service) OrderEdited(ctx context.Context, userID uuid.UUID, side string) {
	emails, err := s.store.GetUserEmails(ctx, []uuid.UUID{userID})
	if err != nil {
		s.log.Error("failed to load order owner email", "error", err)
		return
	}
	s.send(ctx, emails, "edit_"+side+"_order")
}

func (s *Service) send(ctx context.Context, recipients []string, templateName string) {
	if s.mg == nil || len(recipients) == 0 {
		return
	}

	tpl, ok := templates[templateName]
	if !ok {
		s.log.Error("unknown email template", "template", templateName)
		return
	}

	message := s.mg.NewMessage(s.cfg.MailgunSender, tpl.subject, tpl.text, recipients...)
	if _, _, err := s.mg.Send(ctx, message); err != nil {
		s.log.Error("failed to send email", "template", templateName, "error", err)
	}
}
