package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"paycore/internal/config"
	domainErrors "paycore/internal/errors"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
)

func event(t *testing.T, typ string, object interface{}) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return stripe.Event{ID: "evt_1", Type: typ, Data: &stripe.EventData{Raw: raw}}
}

func TestDecodeRefundEvents(t *testing.T) {
	tests := []struct {
		status string
		want   EventType
	}{
		{"succeeded", EventRefundSucceeded},
		{"failed", EventRefundFailed},
		{"canceled", EventRefundFailed},
		{"pending", EventRefundPending},
		{"requires_action", EventRefundPending},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			evt := event(t, "charge.refund.updated", map[string]interface{}{
				"id": "re_1", "amount": 2550, "status": tt.status, "payment_intent": "pi_1",
			})
			out, err := decodeEvent(evt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Type)
			assert.Equal(t, "re_1", out.RefundReference)
			assert.Equal(t, "pi_1", out.PaymentReference)
			assert.True(t, out.Amount.Equal(decimal.RequireFromString("25.50")))
		})
	}
}

func TestDecodePaymentAndDisputeEvents(t *testing.T) {
	out, err := decodeEvent(event(t, "payment_intent.payment_failed", map[string]interface{}{
		"id": "pi_2", "amount": 1000, "status": "requires_payment_method",
		"last_payment_error": map[string]string{"message": "card declined"},
	}))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentFailed, out.Type)
	assert.Equal(t, "card declined", out.Reason)

	out, err = decodeEvent(event(t, "payment_intent.succeeded", map[string]interface{}{"id": "pi_3", "amount": 500}))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentSucceeded, out.Type)
	assert.Equal(t, "pi_3", out.PaymentReference)

	out, err = decodeEvent(event(t, "charge.dispute.created", map[string]interface{}{
		"id": "dp_1", "amount": 700, "payment_intent": "pi_4", "reason": "fraudulent", "status": "needs_response",
	}))
	require.NoError(t, err)
	assert.Equal(t, EventDisputeOpened, out.Type)
	assert.Equal(t, "dp_1", out.DisputeReference)
	assert.Equal(t, "pi_4", out.PaymentReference)
	assert.Equal(t, "fraudulent", out.Reason)
	assert.True(t, out.Amount.Equal(decimal.NewFromInt(7)))

	out, err = decodeEvent(event(t, "charge.dispute.closed", map[string]interface{}{
		"id": "dp_1", "amount": 700, "payment_intent": "pi_4", "status": "won",
	}))
	require.NoError(t, err)
	assert.Equal(t, EventDisputeClosed, out.Type)
	assert.True(t, out.DisputeWon)

	out, err = decodeEvent(event(t, "customer.created", map[string]interface{}{"id": "cus_1"}))
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, out.Type)
}

func TestDecodeExpandedObjects(t *testing.T) {
	out, err := decodeEvent(event(t, "refund.failed", map[string]interface{}{
		"id": "re_9", "amount": 1200, "status": "failed", "failure_reason": "expired_or_canceled_card",
		"payment_intent": map[string]interface{}{"id": "pi_9", "object": "payment_intent", "amount": 1200},
	}))
	require.NoError(t, err)
	assert.Equal(t, EventRefundFailed, out.Type)
	assert.Equal(t, "pi_9", out.PaymentReference)
	assert.Equal(t, "expired_or_canceled_card", out.Reason)

	out, err = decodeEvent(event(t, "charge.dispute.closed", map[string]interface{}{
		"id": "dp_9", "amount": 300, "status": "lost",
		"payment_intent": map[string]interface{}{"id": "pi_10", "object": "payment_intent"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "pi_10", out.PaymentReference)
	assert.False(t, out.DisputeWon)

	// A refund not tied to a payment intent leaves the reference empty.
	out, err = decodeEvent(event(t, "refund.updated", map[string]interface{}{"id": "re_10", "amount": 100, "status": "pending"}))
	require.NoError(t, err)
	assert.Equal(t, EventRefundPending, out.Type)
	assert.Empty(t, out.PaymentReference)
}

func TestDecodeEventRejectsMalformedObject(t *testing.T) {
	evt := stripe.Event{ID: "evt_bad", Type: "refund.updated", Data: &stripe.EventData{Raw: json.RawMessage(`{"amount":"x"}`)}}
	_, err := decodeEvent(evt)
	assert.Error(t, err)
}

func TestParseWebhookVerifiesSignature(t *testing.T) {
	secret := "whsec_test"
	g := NewStripeGateway(config.StripeConfig{WebhookSecret: secret}, nil)

	payload := []byte(fmt.Sprintf(`{"id":"evt_sig","object":"event","api_version":%q,"type":"refund.updated","data":{"object":{"id":"re_9","amount":100,"status":"succeeded","payment_intent":"pi_9"}}}`, stripe.APIVersion))
	now := time.Now()
	header := fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(webhook.ComputeSignature(now, payload, secret)))

	out, err := g.ParseWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_sig", out.ID)
	assert.Equal(t, EventRefundSucceeded, out.Type)
	assert.Equal(t, payload, out.Payload)

	_, err = g.ParseWebhook(payload, "t=1,v1=deadbeef")
	assert.Error(t, err)
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, PaymentSucceeded, mapPaymentStatus("succeeded"))
	assert.Equal(t, PaymentFailed, mapPaymentStatus("canceled"))
	assert.Equal(t, PaymentProcessing, mapPaymentStatus("processing"))
	assert.Equal(t, PaymentProcessing, mapPaymentStatus("requires_capture"))
}

func TestStripeErrorClassification(t *testing.T) {
	g := &StripeGateway{logger: logrus.NewEntry(logrus.New())}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests, Code: "rate_limit"}, domainErrors.ErrGatewayTransport},
		{"server error", &stripe.Error{HTTPStatusCode: http.StatusBadGateway, Type: stripe.ErrorTypeAPI}, domainErrors.ErrGatewayTransport},
		{"idempotency conflict", &stripe.Error{HTTPStatusCode: http.StatusConflict, Code: "idempotency_key_in_use"}, domainErrors.ErrGatewayTransport},
		{"already refunded", &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Code: "charge_already_refunded", Type: stripe.ErrorTypeInvalidRequest}, domainErrors.ErrGatewayRejected},
		{"network", errors.New("dial tcp: i/o timeout"), domainErrors.ErrGatewayTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.handleStripeError("refund", tt.err)
			assert.ErrorIs(t, err, tt.want)
			var gwErr *Error
			assert.True(t, errors.As(err, &gwErr))
		})
	}
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1999), ToMinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(1000), ToMinorUnits(decimal.NewFromInt(10)))
	assert.True(t, FromMinorUnits(1999).Equal(decimal.RequireFromString("19.99")))
}
