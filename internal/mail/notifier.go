// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"bytes"
	"context"
	"html/template"
	"net/url"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/keyhold/internal/auth"
)

// Template names, also used as metric labels.
const (
	TemplateVerification = "verification"
	TemplateReset        = "reset"
)

var templates = template.Must(template.New("mail").Parse(`
{{define "verification"}}<h4>Hello, {{.Name}}</h4> {{if .Link}}<p>Please confirm your email by clicking on the following link: <a href="{{.Link}}">Verify Email</a></p>{{else}}<p>Your email verification code is {{.Secret}}</p>{{end}}{{end}}
{{define "reset"}}<h4>Hello, {{.Name}}</h4> {{if .Link}}<p>Please reset password by clicking on the following link: <a href="{{.Link}}">Reset Password</a></p>{{else}}<p>Your password reset code is {{.Secret}}</p>{{end}}{{end}}
`))

type templateData struct {
	Name   string
	Secret string
	Link   string
}

// Notifier renders challenge emails and hands them to a Sender. In link
// mode the secret is embedded in a URL under origin; in code mode it is
// shown as is.
type Notifier struct {
	sender  Sender
	mode    auth.ChallengeMode
	origin  string
	product string
}

var _ auth.ChallengeNotifier = (*Notifier)(nil)

// NewNotifier creates a Notifier. origin is required in link mode.
func NewNotifier(sender Sender, mode auth.ChallengeMode, origin, product string) (*Notifier, error) {
	if sender == nil {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("sender is required")
	}
	if !mode.Valid() {
		return nil, oops.Code("MAIL_INVALID_CONFIG").With("mode", mode).Errorf("unknown challenge mode")
	}
	if mode == auth.ChallengeLink && origin == "" {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("origin is required for link challenges")
	}
	return &Notifier{
		sender:  sender,
		mode:    mode,
		origin:  strings.TrimRight(origin, "/"),
		product: product,
	}, nil
}

// SendVerification delivers the email verification secret.
func (n *Notifier) SendVerification(ctx context.Context, account *auth.Account, secret string) error {
	return n.deliver(ctx, TemplateVerification, "/verify-email", "Email Confirmation", account, secret)
}

// SendReset delivers the password reset secret.
func (n *Notifier) SendReset(ctx context.Context, account *auth.Account, secret string) error {
	return n.deliver(ctx, TemplateReset, "/reset-password", "Reset Password", account, secret)
}

func (n *Notifier) deliver(ctx context.Context, name, path, subject string, account *auth.Account, secret string) (err error) {
	defer func() {
		result := "success"
		if err != nil {
			result = "failure"
		}
		Deliveries.WithLabelValues(name, result).Inc()
	}()

	data := templateData{Name: account.DisplayName(), Secret: secret}
	if n.mode == auth.ChallengeLink {
		data.Link = n.link(path, secret, account.Email)
	} else {
		subject += " Code"
	}
	if n.product != "" {
		subject = n.product + " " + subject
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return oops.Code("MAIL_RENDER_FAILED").With("template", name).Wrap(err)
	}

	if err := n.sender.Send(ctx, Message{To: account.Email, Subject: subject, HTML: buf.String()}); err != nil {
		return oops.With("template", name).With("account_id", account.ID.String()).Wrap(err)
	}
	return nil
}

func (n *Notifier) link(path, secret, email string) string {
	return n.origin + path + "?token=" + url.QueryEscape(secret) + "&email=" + url.QueryEscape(email)
}
