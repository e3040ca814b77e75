package types

import (
	"bytes"
	"encoding/json"
)

// ExpandableID decodes a Stripe reference field that is either a bare id
// string or an expanded object carrying an "id" member.
type ExpandableID string

func (e *ExpandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = ExpandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = ExpandableID(obj.ID)
	return nil
}

func (e ExpandableID) String() string { return string(e) }

// ProviderSubscription is the subset of a Stripe subscription object the
// service reads. It decodes both webhook payloads and API responses.
type ProviderSubscription struct {
	ID                 string                    `json:"id"`
	Customer           ExpandableID              `json:"customer"`
	Status             SubscriptionStatus        `json:"status"`
	CancelAtPeriodEnd  bool                      `json:"cancel_at_period_end"`
	CurrentPeriodStart *int64                    `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *int64                    `json:"current_period_end,omitempty"`
	Items              ProviderSubscriptionItems `json:"items"`
	Metadata           map[string]string         `json:"metadata,omitempty"`
}

type ProviderSubscriptionItems struct {
	Data []ProviderSubscriptionItem `json:"data"`
}

// ProviderSubscriptionItem carries the price and, on API versions from
// 2025-03-31 onwards, the billing period bounds.
type ProviderSubscriptionItem struct {
	ID                 string        `json:"id"`
	Price              ProviderPrice `json:"price"`
	CurrentPeriodStart *int64        `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *int64        `json:"current_period_end,omitempty"`
}

type ProviderPrice struct {
	ID string `json:"id"`
}

// FirstItem returns the first line item, or nil when there is none.
// Multi-item subscriptions are reduced to their first item.
func (s *ProviderSubscription) FirstItem() *ProviderSubscriptionItem {
	if len(s.Items.Data) == 0 {
		return nil
	}
	return &s.Items.Data[0]
}

// PriceID returns the first item's price id, or nil.
func (s *ProviderSubscription) PriceID() *string {
	item := s.FirstItem()
	if item == nil || item.Price.ID == "" {
		return nil
	}
	id := item.Price.ID
	return &id
}

// PeriodBounds returns the current billing period, preferring the top-level
// fields and falling back to the first item's.
func (s *ProviderSubscription) PeriodBounds() (start, end *int64) {
	start, end = s.CurrentPeriodStart, s.CurrentPeriodEnd
	if item := s.FirstItem(); item != nil {
		if start == nil {
			start = item.CurrentPeriodStart
		}
		if end == nil {
			end = item.CurrentPeriodEnd
		}
	}
	return start, end
}

// ProviderCustomer is the subset of a Stripe customer object the service reads.
type ProviderCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email,omitempty"`
	Deleted  bool              `json:"deleted,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CheckoutMode mirrors Stripe's checkout session mode.
type CheckoutMode string

const (
	CheckoutModeSubscription CheckoutMode = "subscription"
	CheckoutModePayment      CheckoutMode = "payment"
	CheckoutModeSetup        CheckoutMode = "setup"
)

// ProviderCheckoutSession is the subset of a Stripe checkout session the
// service reads, from both the completion event and the create response.
type ProviderCheckoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url,omitempty"`
	Mode              CheckoutMode      `json:"mode"`
	Customer          ExpandableID      `json:"customer"`
	Subscription      ExpandableID      `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// CheckoutSessionParams describes a subscription checkout to create.
type CheckoutSessionParams struct {
	PriceID    string
	UserID     string
	CustomerID string // Reuse an existing provider customer when set.
	Email      string // Prefills the checkout form when no customer is set.
	SuccessURL string
	CancelURL  string
	Plan       string
}
