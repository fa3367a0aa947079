package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"storefront-checkout/internal/cart"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/payment"
)

// Step is a checkout stage. Steps are ordered.
type Step int

const (
	StepInformation Step = iota
	StepShipping
	StepPayment
)

var stepNames = [...]string{"information", "shipping", "payment"}

func (s Step) String() string {
	if s < StepInformation || s > StepPayment {
		return "unknown"
	}
	return stepNames[s]
}

// ParseStep parses a step name.
func ParseStep(name string) (Step, bool) {
	for i, n := range stepNames {
		if n == name {
			return Step(i), true
		}
	}
	return 0, false
}

// MarshalText renders the step name in JSON.
func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Contact is the buyer's contact and shipping address record.
type Contact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city"`
	Region    string `json:"region"`
	Postcode  string `json:"postcode,omitempty"`
}

// Missing lists required fields that are blank, in form order.
// No format validation is applied.
func (c Contact) Missing() []string {
	required := []struct {
		name  string
		value string
	}{
		{"first_name", c.FirstName},
		{"last_name", c.LastName},
		{"email", c.Email},
		{"phone", c.Phone},
		{"address", c.Address},
		{"city", c.City},
		{"region", c.Region},
	}
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Complete reports whether every required field is present.
func (c Contact) Complete() bool {
	return len(c.Missing()) == 0
}

// toAddress converts the contact to a backend address.
func (c Contact) toAddress(country string) model.Address {
	return model.Address{
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Email:     c.Email,
		Phone:     c.Phone,
		Address1:  c.Address,
		Address2:  c.Address2,
		City:      c.City,
		State:     c.Region,
		Postcode:  c.Postcode,
		Country:   country,
	}
}

// AttemptStatus is the lifecycle of one payment attempt.
type AttemptStatus string

const (
	AttemptCreating       AttemptStatus = "creating"
	AttemptAwaitingReturn AttemptStatus = "awaiting_return"
)

// Attempt is one checkout submission against a gateway.
type Attempt struct {
	Gateway     string               `json:"gateway"`
	BuyOrder    string               `json:"buy_order"`
	SessionID   string               `json:"session_id,omitempty"`
	Amount      int64                `json:"amount"`
	Status      AttemptStatus        `json:"status"`
	Instruction *payment.Instruction `json:"instruction,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// placedOrder is the backend order a session has already created, reused on
// resubmission while the total and gateway are unchanged.
type placedOrder struct {
	ID      int64
	Key     string
	Total   int64
	Gateway string
	// Fingerprint identifies what the order was created from.
	Fingerprint string
}

// orderFingerprint hashes everything that goes into a backend order: line
// keys with quantity and unit price, the shipping option and the contact.
func orderFingerprint(c *cart.Cart, shippingOptionID string, contact Contact) string {
	lines := make([]string, 0, c.Len())
	for _, item := range c.Items() {
		lines = append(lines, fmt.Sprintf("%s|%d|%d", item.Key(), item.Quantity, item.UnitPrice))
	}
	slices.Sort(lines)

	h := sha256.New()
	for _, line := range lines {
		io.WriteString(h, line)
		h.Write([]byte{0})
	}
	io.WriteString(h, shippingOptionID)
	h.Write([]byte{0})
	for _, field := range []string{
		contact.FirstName, contact.LastName, contact.Email, contact.Phone,
		contact.Address, contact.Address2, contact.City, contact.Region, contact.Postcode,
	} {
		io.WriteString(h, field)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// session is the mutable per-cart checkout state.
type session struct {
	id               string
	step             Step
	contact          Contact
	shippingOptionID string
	processing       bool
	attempt          *Attempt
	order            *placedOrder
	updatedAt        time.Time
}

// View is a read-only copy of a checkout session.
type View struct {
	ID               string   `json:"id"`
	Step             Step     `json:"step"`
	Contact          Contact  `json:"contact"`
	ShippingOptionID string   `json:"shipping_option_id,omitempty"`
	Processing       bool     `json:"processing"`
	Attempt          *Attempt `json:"attempt,omitempty"`
	OrderID          int64    `json:"order_id,omitempty"`
}

func (s *session) view() View {
	v := View{
		ID:               s.id,
		Step:             s.step,
		Contact:          s.contact,
		ShippingOptionID: s.shippingOptionID,
		Processing:       s.processing,
	}
	if s.attempt != nil {
		a := *s.attempt
		v.Attempt = &a
	}
	if s.order != nil {
		v.OrderID = s.order.ID
	}
	return v
}
