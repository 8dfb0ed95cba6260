package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"paycore/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/paymentintent"
	"github.com/stripe/stripe-go/v72/refund"
	"github.com/stripe/stripe-go/v72/webhook"
	"golang.org/x/time/rate"
)

// StripeGateway implements Gateway on the Stripe API.
type StripeGateway struct {
	refunds       refund.Client
	intents       paymentintent.Client
	webhookSecret string
	timeout       time.Duration
	limiter       *rate.Limiter
	logger        *logrus.Entry
}

func NewStripeGateway(cfg config.StripeConfig, logger *logrus.Entry) *StripeGateway {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	})

	return &StripeGateway{
		refunds:       refund.Client{B: backend, Key: cfg.SecretKey},
		intents:       paymentintent.Client{B: backend, Key: cfg.SecretKey},
		webhookSecret: cfg.WebhookSecret,
		timeout:       cfg.Timeout,
		limiter:       rate.NewLimiter(rate.Limit(rps), burst),
		logger:        logger.WithField("component", "gateway.stripe"),
	}
}

// begin bounds the call by the configured timeout and waits for a rate slot.
func (g *StripeGateway) begin(ctx context.Context, op string) (context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	if err := g.limiter.Wait(ctx); err != nil {
		cancel()
		return nil, nil, &Error{Op: op, Code: "throttled", Message: err.Error(), Retryable: true}
	}
	return ctx, cancel, nil
}

func (g *StripeGateway) RefundExternal(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	ctx, cancel, err := g.begin(ctx, "refund")
	if err != nil {
		return nil, err
	}
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentReference),
		Amount:        stripe.Int64(ToMinorUnits(req.Amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	r, err := g.refunds.New(params)
	if err != nil {
		return nil, g.handleStripeError("refund", err)
	}

	g.logger.WithFields(logrus.Fields{
		"refund_reference": r.ID,
		"status":           r.Status,
	}).Info("stripe refund created")

	return &RefundResult{
		ExternalRefundID: r.ID,
		Status:           mapRefundStatus(string(r.Status)),
		Amount:           FromMinorUnits(r.Amount),
	}, nil
}

func (g *StripeGateway) GetRefund(ctx context.Context, externalRefundID string) (*RefundResult, error) {
	ctx, cancel, err := g.begin(ctx, "get_refund")
	if err != nil {
		return nil, err
	}
	defer cancel()

	params := &stripe.RefundParams{}
	params.Context = ctx
	r, err := g.refunds.Get(externalRefundID, params)
	if err != nil {
		return nil, g.handleStripeError("get_refund", err)
	}
	return &RefundResult{
		ExternalRefundID: r.ID,
		Status:           mapRefundStatus(string(r.Status)),
		Amount:           FromMinorUnits(r.Amount),
	}, nil
}

func (g *StripeGateway) GetPaymentStatus(ctx context.Context, paymentReference string) (PaymentStatus, error) {
	ctx, cancel, err := g.begin(ctx, "get_payment")
	if err != nil {
		return "", err
	}
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.intents.Get(paymentReference, params)
	if err != nil {
		return "", g.handleStripeError("get_payment", err)
	}
	return mapPaymentStatus(string(pi.Status)), nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	evt, err := webhook.ConstructEvent(payload, signature, g.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook signature: %w", err)
	}
	parsed, err := decodeEvent(evt)
	if err != nil {
		return nil, err
	}
	parsed.Payload = payload
	return parsed, nil
}

// decodeEvent maps a Stripe event onto the engine's view. Expandable fields
// such as a refund's payment_intent arrive as bare ids, which the stripe-go
// types decode into an object carrying only the ID.
func decodeEvent(evt stripe.Event) (*WebhookEvent, error) {
	out := &WebhookEvent{ID: evt.ID, RawType: evt.Type, Type: EventIgnored}
	if evt.Data == nil {
		return out, nil
	}
	raw := evt.Data.Raw

	switch evt.Type {
	case "charge.refund.updated", "refund.created", "refund.updated", "refund.failed":
		var r stripe.Refund
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode refund event: %w", err)
		}
		out.RefundReference = r.ID
		if r.PaymentIntent != nil {
			out.PaymentReference = r.PaymentIntent.ID
		}
		out.Amount = FromMinorUnits(r.Amount)
		out.Reason = string(r.FailureReason)
		switch mapRefundStatus(string(r.Status)) {
		case RefundSucceeded:
			out.Type = EventRefundSucceeded
		case RefundFailed:
			out.Type = EventRefundFailed
		default:
			out.Type = EventRefundPending
		}

	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent event: %w", err)
		}
		out.PaymentReference = pi.ID
		out.Amount = FromMinorUnits(pi.Amount)
		if evt.Type == "payment_intent.succeeded" {
			out.Type = EventPaymentSucceeded
		} else {
			out.Type = EventPaymentFailed
			out.Reason = evt.Type
			if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
				out.Reason = pi.LastPaymentError.Msg
			}
		}

	case "charge.dispute.created", "charge.dispute.closed":
		var d stripe.Dispute
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode dispute event: %w", err)
		}
		out.DisputeReference = d.ID
		if d.PaymentIntent != nil {
			out.PaymentReference = d.PaymentIntent.ID
		}
		out.Amount = FromMinorUnits(d.Amount)
		out.Reason = string(d.Reason)
		if evt.Type == "charge.dispute.created" {
			out.Type = EventDisputeOpened
		} else {
			out.Type = EventDisputeClosed
			out.DisputeWon = d.Status == stripe.DisputeStatusWon
		}
	}
	return out, nil
}

func mapRefundStatus(status string) RefundStatus {
	switch status {
	case "succeeded":
		return RefundSucceeded
	case "failed", "canceled":
		return RefundFailed
	}
	return RefundPending
}

func mapPaymentStatus(status string) PaymentStatus {
	switch status {
	case "succeeded":
		return PaymentSucceeded
	case "canceled", "requires_payment_method":
		return PaymentFailed
	}
	return PaymentProcessing
}

func (g *StripeGateway) handleStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		gwErr := &Error{
			Op:        op,
			Code:      string(stripeErr.Code),
			Message:   stripeErr.Msg,
			Retryable: isRetryable(stripeErr),
		}
		g.logger.WithFields(logrus.Fields{
			"op":        op,
			"code":      gwErr.Code,
			"http":      stripeErr.HTTPStatusCode,
			"retryable": gwErr.Retryable,
		}).Warn("stripe request failed")
		return gwErr
	}
	// Timeouts and connection failures never produced an API response.
	return &Error{Op: op, Code: "transport", Message: err.Error(), Retryable: true}
}

func isRetryable(err *stripe.Error) bool {
	if err.HTTPStatusCode == http.StatusTooManyRequests || err.HTTPStatusCode >= http.StatusInternalServerError {
		return true
	}
	switch string(err.Code) {
	case "rate_limit", "lock_timeout", "idempotency_key_in_use":
		return true
	}
	return err.Type == stripe.ErrorTypeAPI
}
