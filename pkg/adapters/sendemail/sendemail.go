// Package sendemail is the SEND_EMAIL work adapter.
//
// The work input is an email.SendEmailParams object. Invalid params and
// provider rejections fail permanently; transport failures requeue the item
// while it has retries left.
package sendemail

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"time"

	"github.com/dmitrymomot/workqueue/pkg/email"
	"github.com/dmitrymomot/workqueue/pkg/logger"
	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

// Type is the work type handled by this adapter.
const Type = "SEND_EMAIL"

// Error names written to failed items.
const (
	ErrorNameInvalidParams = "InvalidEmailParams"
	ErrorNameRejected      = "EmailRejected"
	ErrorNameDelivery      = "EmailDeliveryError"
)

// Option configures the adapter.
type Option func(*adapter)

// WithRetryDelay sets how long a requeued delivery waits. Default 1 minute.
func WithRetryDelay(d time.Duration) Option {
	return func(a *adapter) {
		if d > 0 {
			a.retryDelay = d
		}
	}
}

// WithLogger sets the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

type adapter struct {
	sender     email.EmailSender
	retryDelay time.Duration
	logger     *slog.Logger
}

// New returns the SEND_EMAIL adapter delivering through sender.
func New(sender email.EmailSender, opts ...Option) workqueue.Adapter {
	a := &adapter{
		sender:     sender,
		retryDelay: time.Minute,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logger.Component("sendemail"))
	return workqueue.NewTypedAdapter(Type, a.do)
}

// Enqueue validates params and adds a SEND_EMAIL item.
func Enqueue(ctx context.Context, q *workqueue.Queue, params email.SendEmailParams, opts ...workqueue.AddOption) (*workqueue.Work, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return q.AddWork(ctx, Type, params, opts...)
}

func (a *adapter) do(ctx context.Context, params email.SendEmailParams, api workqueue.API) (workqueue.Outcome, error) {
	w := api.Work()

	md := maps.Clone(params.Metadata)
	if md == nil {
		md = map[string]string{}
	}
	md["work_id"] = w.ID
	params.Metadata = md

	id, err := a.sender.SendEmail(ctx, params)
	if err == nil {
		return workqueue.Success(map[string]any{"message_id": id}), nil
	}

	var pe *email.ProviderError
	switch {
	case errors.Is(err, email.ErrInvalidParams):
		return workqueue.Failure(ErrorNameInvalidParams, err.Error()), nil
	case errors.As(err, &pe):
		out := workqueue.Failure(ErrorNameRejected, pe.Message)
		out.Error.Data = map[string]any{"code": pe.Code}
		return out, nil
	}

	out := workqueue.Failure(ErrorNameDelivery, err.Error())
	if w.Retries <= 0 {
		return out, nil
	}
	next, rerr := api.Requeue(ctx, workqueue.WithDelay(a.retryDelay))
	if rerr != nil {
		a.logger.ErrorContext(ctx, "failed to requeue email", logger.WorkID(w.ID), logger.Error(rerr))
		return out, nil
	}
	a.logger.WarnContext(ctx, "email delivery failed, requeued",
		logger.WorkID(w.ID),
		slog.String("next_work_id", next.ID),
		logger.Error(err))
	out.Error.Data = map[string]any{"requeued_as": next.ID}
	return out, nil
}
