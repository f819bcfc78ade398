package automation

import "context"

// Sender delivers a plain-text email. Grounded on the pack's own email
// sender (NexusAgentProtocol's internal/email.SMTPSender): net/smtp is the
// only email transport any example repo uses, so there is no third-party
// mail library to adopt here either.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// noopSender is used when the executor is wired without a configured SMTP
// sender (e.g. in tests, or a deployment with automation:email never
// granted to any token). It records nothing and always succeeds, since the
// capability gate already keeps ungranted tokens from reaching here.
type noopSender struct{}

func (noopSender) Send(context.Context, string, string, string) error { return nil }
