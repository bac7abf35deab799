package domain

import (
	"encoding/json"
	"time"
)

// Envelope is a raw inbound request as received by the transport.
type Envelope struct {
	ID        string            `json:"id,omitempty" validate:"omitempty,max=128,printascii"`
	Name      string            `json:"name,omitempty" validate:"required_without=Body,max=256"`
	Type      string            `json:"type,omitempty" validate:"max=128"`
	Locale    string            `json:"locale,omitempty" validate:"omitempty,bcp47_language_tag"`
	SessionID string            `json:"session_id,omitempty" validate:"max=256"`
	UserID    string            `json:"user_id,omitempty" validate:"max=256"`
	Headers   map[string]string `json:"headers,omitempty" validate:"max=64,dive,keys,required,max=256,endkeys,max=4096"`
	Body      json.RawMessage   `json:"body,omitempty" validate:"omitempty,json"`

	// ReceivedAt is stamped by the transport.
	ReceivedAt time.Time `json:"-"`
}

// Header returns the value of a header, or "" when absent.
func (e *Envelope) Header(key string) string {
	if e == nil || e.Headers == nil {
		return ""
	}
	return e.Headers[key]
}
