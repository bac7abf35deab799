package domain

// PolicyInput is the document a policy engine evaluates for one request.
type PolicyInput struct {
	Name       string            `json:"name"`
	Type       string            `json:"type,omitempty"`
	Locale     string            `json:"locale,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Attributes map[string]any    `json:"attributes,omitempty"`
}

// NewPolicyInput projects in onto the fields policies may inspect.
func NewPolicyInput(in *HandlerInput) PolicyInput {
	env := in.Envelope
	if env == nil {
		env = &Envelope{}
	}
	return PolicyInput{
		Name:       in.ResolvedName,
		Type:       env.Type,
		Locale:     env.Locale,
		SessionID:  env.SessionID,
		UserID:     env.UserID,
		Headers:    cloneStringMap(env.Headers),
		Attributes: in.Attributes,
	}
}

// Map converts the input into the generic form rego expects.
func (p PolicyInput) Map() map[string]any {
	headers := make(map[string]any, len(p.Headers))
	for k, v := range p.Headers {
		headers[k] = v
	}
	attrs := make(map[string]any, len(p.Attributes))
	for k, v := range p.Attributes {
		attrs[k] = v
	}
	return map[string]any{
		"name":       p.Name,
		"type":       p.Type,
		"locale":     p.Locale,
		"session_id": p.SessionID,
		"user_id":    p.UserID,
		"headers":    headers,
		"attributes": attrs,
	}
}

func cloneStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
