package dispatch

// Outbound event names.
const (
	EventSuccess = "success"
	// EventSuccessCompat duplicates EventSuccess for clients still
	// listening on the old misspelled name.
	EventSuccessCompat = "successs"
	EventError         = "error"
	EventBusy          = "busy_state"
)

// Connection is the client a job came from.
type Connection interface {
	Emit(event string, payload any) error
}

// Broadcaster fans the busy state out to every connected client.
type Broadcaster interface {
	BroadcastBusy(state BusyState)
}

// Result is the payload of success and error events.
type Result struct {
	ID         string `json:"id,omitempty"`
	Mensaje    string `json:"mensaje"`
	TemplateID string `json:"template_id"`
	ReplyID    string `json:"reply_id,omitempty"`
	Categoria  string `json:"categoria,omitempty"`
	Path       string `json:"path,omitempty"`
	Printer    string `json:"printer,omitempty"`
	Status     string `json:"status,omitempty"`
}
