package paystack

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
)

// EventChargeSuccess is the only event type that drives reconciliation.
const EventChargeSuccess = "charge.success"

// ErrMalformedEvent is returned for bodies that are not a well-formed event.
var ErrMalformedEvent = errors.New("malformed paystack event")

// Event is a decoded webhook delivery. Charge is only populated for
// charge.success; every other type is carried by name alone.
type Event struct {
	Type   string
	Charge *Charge
}

// Charge is the payload of a charge.success event. Metadata is nil when the
// provider sent none.
type Charge struct {
	Reference string
	Amount    int64
	Metadata  *order.Metadata
}

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wireCharge struct {
	Reference string          `json:"reference"`
	Amount    json.Number     `json:"amount"`
	Metadata  json.RawMessage `json:"metadata"`
}

// ParseEvent validates the webhook body shape. It never looks inside data for
// event types other than charge.success.
func ParseEvent(body []byte) (Event, error) {
	var we wireEvent
	if err := json.Unmarshal(body, &we); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if we.Event == "" {
		return Event{}, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}

	evt := Event{Type: we.Event}
	if we.Event != EventChargeSuccess {
		return evt, nil
	}

	charge := &Charge{}
	evt.Charge = charge
	if isNull(we.Data) {
		return evt, nil
	}

	var wc wireCharge
	dec := json.NewDecoder(bytes.NewReader(we.Data))
	dec.UseNumber()
	if err := dec.Decode(&wc); err != nil {
		return Event{}, fmt.Errorf("%w: data: %v", ErrMalformedEvent, err)
	}
	amount, err := parseAmount(wc.Amount)
	if err != nil {
		return Event{}, err
	}
	md, err := decodeMetadata(wc.Metadata)
	if err != nil {
		return Event{}, err
	}

	charge.Reference = strings.TrimSpace(wc.Reference)
	charge.Amount = amount
	charge.Metadata = md
	return evt, nil
}

func parseAmount(n json.Number) (int64, error) {
	if n == "" {
		return 0, nil
	}
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("%w: amount %q is not an integer", ErrMalformedEvent, n.String())
	}
	return int64(f), nil
}

// decodeMetadata accepts a JSON object or a JSON-encoded string holding one.
// Null, missing or empty-string metadata decode to nil.
func decodeMetadata(raw json.RawMessage) (*order.Metadata, error) {
	if isNull(raw) {
		return nil, nil
	}

	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", ErrMalformedEvent, err)
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		trimmed = []byte(s)
	}

	fields := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", ErrMalformedEvent, err)
	}
	return &order.Metadata{
		UserID:          stringField(fields["user_id"]),
		ProviderName:    stringField(fields["provider_name"]),
		BundleID:        stringField(fields["bundle_id"]),
		RecipientNumber: stringField(fields["recipient_number"]),
	}, nil
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
