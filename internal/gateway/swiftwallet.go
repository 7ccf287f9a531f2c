package gateway

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/marketloop/checkout/internal/domain/payment"
)

// SwiftWalletID identifies the mobile wallet gateway.
const SwiftWalletID = "swiftwallet"

var _ payment.Gateway = (*SwiftWallet)(nil)

// SwiftWallet is the client for the mobile/wallet payment provider. The
// provider creates a payment intent and hands back a deep-linkable pay URL.
type SwiftWallet struct {
	cfg    Config
	client *http.Client
}

// NewSwiftWallet creates a SwiftWallet client.
func NewSwiftWallet(cfg Config) *SwiftWallet {
	return &SwiftWallet{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout),
	}
}

func (s *SwiftWallet) ID() string { return SwiftWalletID }

// Initiate creates a payment intent with the provider.
func (s *SwiftWallet) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResult, error) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("total", func(e *jx.Encoder) { e.Str(req.Amount.StringFixed(2)) })
		e.Field("order", func(e *jx.Encoder) { e.Str(req.OrderRef) })
		e.Field("payer_phone", func(e *jx.Encoder) { e.Str(req.Customer.Phone) })
		e.Field("notify", func(e *jx.Encoder) { e.Str(req.CallbackURL) })
		e.Field("redirect", func(e *jx.Encoder) { e.Str(req.ReturnURL) })
	})

	raw, err := post(ctx, s.client, s.cfg.BaseURL+"/pay/intents", s.cfg.APIKey, []byte(s.cfg.Secret), e.Bytes())
	if err != nil {
		return nil, err
	}

	res := &payment.InitiateResult{Raw: raw}
	d := jx.DecodeBytes(raw)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "intent_id":
			v, err := d.Str()
			res.ExternalRef = v
			return err
		case "pay_url":
			v, err := d.Str()
			res.PaymentURL = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode intent response")
	}
	if res.ExternalRef == "" || res.PaymentURL == "" {
		return nil, errors.New("intent response missing intent_id or pay_url")
	}
	return res, nil
}

// VerifyCallback authenticates and decodes an intent webhook.
func (s *SwiftWallet) VerifyCallback(payload []byte, signature string) (*payment.CallbackEvent, error) {
	if !verifySignature([]byte(s.cfg.Secret), payload, signature) {
		return nil, payment.ErrInvalidSignature
	}

	event := &payment.CallbackEvent{Raw: payload}
	var result string
	d := jx.DecodeBytes(payload)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "order":
			event.OrderRef, err = d.Str()
		case "intent":
			event.ExternalRef, err = d.Str()
		case "result":
			result, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, errors.Wrap(payment.ErrInvalidCallback, "decode")
	}

	switch result {
	case "success":
		event.Status = payment.StatusSuccess
	case "failure":
		event.Status = payment.StatusFailed
	default:
		return nil, errors.Wrap(payment.ErrInvalidCallback, "unknown intent result "+result)
	}
	if event.OrderRef == "" {
		return nil, errors.Wrap(payment.ErrInvalidCallback, "missing order")
	}
	return event, nil
}
