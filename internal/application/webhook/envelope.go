package webhook

import (
	"encoding/json"
	"strings"

	"github.com/storefront/integration/internal/domain/shared"
	"github.com/storefront/integration/internal/domain/webhook"
)

// Envelope is the canonical decoded form of an inbound notification.
// Every source's proprietary shape is reduced to this tuple before any
// handler sees it.
type Envelope struct {
	Source    webhook.Source
	Resource  string
	Action    string
	EventType string
	// EventID is the source-provided dedup key, empty when the source
	// does not supply one.
	EventID string
	// Ref is the source's correlation reference: the payment id for the
	// payment gateway, the opaque shipment reference for the carrier.
	Ref string
	// Payload is the business portion of the body, handlers decode it
	// into their own shapes.
	Payload json.RawMessage
}

// erpEnvelope is the ERP shape: a single "event" string encoding
// "resource.action" plus a data object.
type erpEnvelope struct {
	Event   string          `json:"event"`
	EventID string          `json:"eventId"`
	Data    json.RawMessage `json:"data"`
}

// paymentEnvelope is the gateway shape: separate type and action fields,
// data carrying only the payment id.
type paymentEnvelope struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// carrierEnvelope is the broker shape: a topic plus an opaque resource
// reference that must be read back for detail.
type carrierEnvelope struct {
	Topic    string `json:"topic"`
	Resource string `json:"resource"`
	EventID  string `json:"eventId"`
}

// DecodeEnvelope reduces a raw body to the canonical envelope. A missing
// discriminator field is a malformed envelope, reported before routing.
func DecodeEnvelope(source webhook.Source, body []byte) (Envelope, error) {
	switch source {
	case webhook.SourceERP:
		return decodeERPEnvelope(body)
	case webhook.SourcePayment:
		return decodePaymentEnvelope(body)
	case webhook.SourceCarrier:
		return decodeCarrierEnvelope(body)
	default:
		return Envelope{}, shared.NewDomainError("INVALID_SOURCE", "Unknown webhook source: "+string(source))
	}
}

func decodeERPEnvelope(body []byte) (Envelope, error) {
	var raw erpEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return Envelope{}, shared.NewDomainError("MALFORMED_ENVELOPE", "Invalid JSON body")
	}
	if raw.Event == "" {
		return Envelope{}, shared.NewDomainError("MALFORMED_ENVELOPE", "Missing event discriminator")
	}

	resource, action := splitEventType(raw.Event)
	payload := raw.Data
	if len(payload) == 0 {
		payload = body
	}

	return Envelope{
		Source:    webhook.SourceERP,
		Resource:  resource,
		Action:    action,
		EventType: raw.Event,
		EventID:   raw.EventID,
		Payload:   payload,
	}, nil
}

func decodePaymentEnvelope(body []byte) (Envelope, error) {
	var raw paymentEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return Envelope{}, shared.NewDomainError("MALFORMED_ENVELOPE", "Invalid JSON body")
	}
	if raw.Type == "" {
		return Envelope{}, shared.NewDomainError("MALFORMED_ENVELOPE", "Missing type discriminator")
	}

	// The action field arrives as "payment.updated"; the resource prefix
	// is redundant with type.
	action := raw.Action
	if idx := strings.IndexByte(action, '.'); idx >= 0 {
		action = action[idx+1:]
	}
	if action == "" {
		action = "updated"
	}

	eventType := raw.Type + "." + action

	return Envelope{
		Source:    webhook.SourcePayment,
		Resource:  raw.Type,
		Action:    action,
		EventType: eventType,
		EventID:   raw.ID.String(),
		Ref:       raw.Data.ID.String(),
		Payload:   body,
	}, nil
}

func decodeCarrierEnvelope(body []byte) (Envelope, error) {
	var raw carrierEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return Envelope{}, shared.NewDomainError("MALFORMED_ENVELOPE", "Invalid JSON body")
	}
	if raw.Topic == "" {
		return Envelope{}, shared.NewDomainError("MALFORMED_ENVELOPE", "Missing topic discriminator")
	}

	return Envelope{
		Source:    webhook.SourceCarrier,
		Resource:  raw.Topic,
		Action:    "updated",
		EventType: raw.Topic + ".updated",
		EventID:   raw.EventID,
		Ref:       raw.Resource,
		Payload:   body,
	}, nil
}

// splitEventType splits "resource.action" on the first dot. An event
// without a dot is a bare resource with an implied update action.
func splitEventType(event string) (resource, action string) {
	if idx := strings.IndexByte(event, '.'); idx >= 0 {
		return event[:idx], event[idx+1:]
	}
	return event, "updated"
}
