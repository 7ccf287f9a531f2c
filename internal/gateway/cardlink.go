package gateway

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/marketloop/checkout/internal/domain/payment"
)

// CardlinkID identifies the card gateway in callback routes and Payment rows.
const CardlinkID = "cardlink"

var _ payment.Gateway = (*Cardlink)(nil)

// Cardlink is the client for the hosted card-payment provider. Initiation
// returns a hosted checkout URL the customer is redirected to.
type Cardlink struct {
	cfg    Config
	client *http.Client
}

// NewCardlink creates a Cardlink client.
func NewCardlink(cfg Config) *Cardlink {
	return &Cardlink{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout),
	}
}

func (c *Cardlink) ID() string { return CardlinkID }

// Initiate creates a charge with the provider and returns its checkout URL.
func (c *Cardlink) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResult, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("amount", func(e *jx.Encoder) { e.Str(req.Amount.StringFixed(2)) })
		e.Field("reference", func(e *jx.Encoder) { e.Str(req.OrderRef) })
		e.Field("customer", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("name", func(e *jx.Encoder) { e.Str(req.Customer.Name) })
				e.Field("email", func(e *jx.Encoder) { e.Str(req.Customer.Email) })
			})
		})
		e.Field("callback_url", func(e *jx.Encoder) { e.Str(req.CallbackURL) })
		e.Field("return_url", func(e *jx.Encoder) { e.Str(req.ReturnURL) })
	})

	raw, err := post(ctx, c.client, c.cfg.BaseURL+"/v1/charges", c.cfg.APIKey, []byte(c.cfg.Secret), e.Bytes())
	if err != nil {
		return nil, err
	}

	res := &payment.InitiateResult{Raw: raw}
	d := jx.DecodeBytes(raw)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Str()
			res.ExternalRef = v
			return err
		case "checkout_url":
			v, err := d.Str()
			res.PaymentURL = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode charge response")
	}
	if res.ExternalRef == "" || res.PaymentURL == "" {
		return nil, errors.New("charge response missing id or checkout_url")
	}
	return res, nil
}

// VerifyCallback authenticates and decodes a charge webhook.
func (c *Cardlink) VerifyCallback(payload []byte, signature string) (*payment.CallbackEvent, error) {
	if !verifySignature([]byte(c.cfg.Secret), payload, signature) {
		return nil, payment.ErrInvalidSignature
	}

	event := &payment.CallbackEvent{Raw: payload}
	var status string
	d := jx.DecodeBytes(payload)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "reference":
			event.OrderRef, err = d.Str()
		case "transaction_id":
			event.ExternalRef, err = d.Str()
		case "status":
			status, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, errors.Wrap(payment.ErrInvalidCallback, "decode")
	}

	switch status {
	case "PAID":
		event.Status = payment.StatusSuccess
	case "DECLINED":
		event.Status = payment.StatusFailed
	default:
		return nil, errors.Wrap(payment.ErrInvalidCallback, "unknown charge status "+status)
	}
	if event.OrderRef == "" {
		return nil, errors.Wrap(payment.ErrInvalidCallback, "missing reference")
	}
	return event, nil
}
