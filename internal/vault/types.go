package vault

// Status is the vault-side state of a task. The vault owns it; the relay
// only ever requests a transition.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusReplied         Status = "REPLIED"
	StatusPendingApproval Status = "PENDING_APPROVAL"
)

// Task is one inbound message awaiting an answer.
type Task struct {
	MessageID  string `json:"messageId"`
	Identifier string `json:"email"`
	Text       string `json:"userText"`
	Status     Status `json:"-"`
}

// Listing is one pending fetch. Rejected holds the items that could not
// be read as tasks; they stay pending in the vault and never hide the
// valid tasks listed next to them.
type Listing struct {
	Tasks    []Task
	Rejected []error
}

// Completion is the update posted back for one task. RequiresApproval is a
// pointer so a degraded reply can omit the flag while a real answer always
// carries it, false included.
type Completion struct {
	MessageID        string `json:"messageId"`
	ReplyContent     string `json:"replyContent"`
	MediaBase64      string `json:"mediaBase64,omitempty"`
	MediaName        string `json:"mediaName,omitempty"`
	RequiresApproval *bool  `json:"requiresApproval,omitempty"`
}

// HasMedia reports whether both media fields are set.
func (c Completion) HasMedia() bool { return c.MediaBase64 != "" && c.MediaName != "" }

// Ack is the vault's answer to a completion.
type Ack struct {
	StatusCode int
	Status     string
}
