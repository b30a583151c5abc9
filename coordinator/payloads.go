package coordinator

import "encoding/json"

type runStartedPayload struct {
	Message  string `json:"message"`
	Context  string `json:"context,omitempty"`
	Mode     string `json:"mode,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

func marshalRunStarted(req StartRequest) json.RawMessage {
	data, _ := json.Marshal(runStartedPayload{
		Message:  req.Message,
		Context:  req.Context,
		Mode:     req.Mode,
		TenantID: req.Identity.TenantID,
		UserID:   req.Identity.UserID,
	})
	return data
}

type runFailedPayload struct {
	Reason string `json:"reason"`
}

func marshalCancelled() json.RawMessage {
	data, _ := json.Marshal(runFailedPayload{Reason: "cancelled"})
	return data
}

type rateLimitPayload struct {
	Scope string `json:"scope"`
}

func marshalScope(scope string) json.RawMessage {
	data, _ := json.Marshal(rateLimitPayload{Scope: scope})
	return data
}
