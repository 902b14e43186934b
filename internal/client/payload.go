package client

import (
	"encoding/json"
	"fmt"
)

type PayloadKind int

const (
	PayloadEmpty PayloadKind = iota
	PayloadJSON
	PayloadText
)

// Payload is a decoded response body. Bodies are parsed as JSON, falling
// back to raw text, or empty for a body-less response.
type Payload struct {
	Kind PayloadKind
	JSON json.RawMessage
	Text string
}

func parsePayload(body []byte) Payload {
	if len(body) == 0 {
		return Payload{Kind: PayloadEmpty}
	}
	if json.Valid(body) {
		return Payload{Kind: PayloadJSON, JSON: json.RawMessage(body)}
	}
	return Payload{Kind: PayloadText, Text: string(body)}
}

func payloadFromCache(data json.RawMessage) Payload {
	return Payload{Kind: PayloadJSON, JSON: data}
}

// raw returns the payload as JSON for caching. Text bodies are stored as a
// JSON string, empty bodies as null.
func (p Payload) raw() (json.RawMessage, error) {
	switch p.Kind {
	case PayloadJSON:
		return p.JSON, nil
	case PayloadText:
		encoded, err := json.Marshal(p.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to encode text payload: %w", err)
		}
		return json.RawMessage(encoded), nil
	default:
		return json.RawMessage("null"), nil
	}
}

// message extracts the best-effort error message: a "message" field from a
// JSON body, the raw body text, or "" when neither is present.
func (p Payload) message() string {
	switch p.Kind {
	case PayloadJSON:
		var withMessage struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(p.JSON, &withMessage); err == nil && withMessage.Message != "" {
			return withMessage.Message
		}
		return string(p.JSON)
	case PayloadText:
		return p.Text
	default:
		return ""
	}
}

// Decode unmarshals the payload into T. Empty payloads decode to the zero
// value, text payloads only decode into plain strings.
func Decode[T any](p Payload) (T, error) {
	var result T

	switch p.Kind {
	case PayloadEmpty:
		return result, nil
	case PayloadJSON:
		if err := json.Unmarshal(p.JSON, &result); err != nil {
			return result, fmt.Errorf("failed to decode response: %w", err)
		}
		return result, nil
	default:
		if s, ok := any(&result).(*string); ok {
			*s = p.Text
			return result, nil
		}
		return result, fmt.Errorf("got text response where %T was expected", result)
	}
}
