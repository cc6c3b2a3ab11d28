package http

// RegisterPurchaseRequest creates a purchased number and queues its
// provisioning.
type RegisterPurchaseRequest struct {
	CustomerID            string `json:"customer_id" validate:"required,uuid"`
	PhoneNumber           string `json:"phone_number" validate:"required,e164"`
	ForwardingType        string `json:"forwarding_type" validate:"omitempty,oneof=none call sms both"`
	ForwardingDestination string `json:"forwarding_destination" validate:"omitempty"`
	SMSEnabled            bool   `json:"sms_enabled"`
}

// UpdateForwardingRequest changes where a number routes traffic.
type UpdateForwardingRequest struct {
	ForwardingType        string `json:"forwarding_type" validate:"required,oneof=none call sms both"`
	ForwardingDestination string `json:"forwarding_destination" validate:"omitempty"`
	SMSEnabled            bool   `json:"sms_enabled"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ProcessOneResponse reports the outcome of a synchronous single-task run.
type ProcessOneResponse struct {
	Processed bool   `json:"processed"`
	TaskID    string `json:"task_id,omitempty"`
	Action    string `json:"action,omitempty"`
}
