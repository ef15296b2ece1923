package model

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/settlr/settlr/model"
)

// CreatePayment is the request body for POST /payments.
type CreatePayment struct {
	Sender      string                 `json:"sender"`
	Recipient   string                 `json:"recipient"`
	Amount      decimal.Decimal        `json:"amount"`
	Category    string                 `json:"category"`
	Description string                 `json:"description"`
	MetaData    map[string]interface{} `json:"meta_data"`
}

// UpsertCounterparty is the request body for POST /counterparties.
type UpsertCounterparty struct {
	AccountID   string `json:"account_id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

func (p *CreatePayment) ValidateCreatePayment() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Sender, validation.Required),
		validation.Field(&p.Recipient, validation.Required, validation.By(func(interface{}) error {
			if p.Recipient == p.Sender {
				return errors.New("recipient must differ from sender")
			}
			return nil
		})),
		validation.Field(&p.Amount, validation.By(func(interface{}) error {
			if !p.Amount.IsPositive() {
				return errors.New("amount must be positive")
			}
			return nil
		})),
		validation.Field(&p.Category, validation.By(func(interface{}) error {
			if p.Category != "" && !model.ValidCategory(model.NormalizeCategory(p.Category)) {
				return errors.New("unknown category")
			}
			return nil
		})),
	)
}

func (c *UpsertCounterparty) ValidateUpsertCounterparty() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.AccountID, validation.Required),
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Category, validation.By(func(interface{}) error {
			if c.Category != "" && !model.ValidCategory(c.Category) {
				return errors.New("unknown category")
			}
			return nil
		})),
	)
}

func (p *CreatePayment) ToPaymentIntent() *model.PaymentIntent {
	return &model.PaymentIntent{
		Sender:      p.Sender,
		Recipient:   p.Recipient,
		Amount:      p.Amount,
		Category:    model.NormalizeCategory(p.Category),
		Description: p.Description,
		MetaData:    p.MetaData,
	}
}

func (c *UpsertCounterparty) ToCounterparty() model.Counterparty {
	return model.Counterparty{
		AccountID:   c.AccountID,
		Name:        c.Name,
		Category:    model.NormalizeCategory(c.Category),
		Description: c.Description,
	}
}
