// Package email delivers transactional emails on behalf of the SEND_EMAIL
// work adapter.
//
// Three EmailSender implementations are provided:
//   - NewPostmarkClient sends through Postmark with open and link tracking
//   - NewDevSender writes each email as HTML plus JSON metadata to a directory
//   - NewLogSender only logs the envelope
//
// NewSender picks one from Config: Postmark when both tokens are set, the dev
// sender when EMAIL_DEV_DIR is set, the log sender otherwise.
//
// # Usage
//
//	var cfg email.Config
//	config.MustLoad(&cfg)
//
//	sender, err := email.NewSender(cfg, log)
//	if err != nil {
//	    return err
//	}
//
//	messageID, err := sender.SendEmail(ctx, email.SendEmailParams{
//	    SendTo:   "user@example.com",
//	    Subject:  "Your export is ready",
//	    BodyHTML: html,
//	    Tag:      "export",
//	})
//
// # Errors
//
//   - ErrInvalidConfig: configuration validation failed
//   - ErrInvalidParams: SendEmailParams validation failed
//   - ErrFailedToSendEmail: delivery failed; a provider rejection also carries a *ProviderError
package email
