package ollama

// Message is one chat message on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one streaming chat exchange.
type ChatRequest struct {
	// Address is the server base URL, e.g. http://localhost:11434.
	Address  string
	Model    string
	Messages []Message
}

// chatPayload is the body of POST /api/chat.
type chatPayload struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// RecordKind classifies a StreamRecord.
type RecordKind int

const (
	// RecordDelta carries the next content fragment.
	RecordDelta RecordKind = iota
	// RecordDone is the terminal record with usage statistics.
	RecordDone
	// RecordError carries a server-side error and ends the exchange.
	RecordError
)

func (k RecordKind) String() string {
	switch k {
	case RecordDelta:
		return "delta"
	case RecordDone:
		return "done"
	case RecordError:
		return "error"
	default:
		return "unknown"
	}
}

// StreamRecord is one line of a streaming chat response.
type StreamRecord struct {
	Model      string  `json:"model"`
	CreatedAt  string  `json:"created_at,omitempty"`
	Message    Message `json:"message"`
	Done       bool    `json:"done"`
	DoneReason string  `json:"done_reason,omitempty"`

	TotalDuration   int64 `json:"total_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`

	Error string `json:"error,omitempty"`
}

// Kind classifies the record.
func (r StreamRecord) Kind() RecordKind {
	switch {
	case r.Error != "":
		return RecordError
	case r.Done:
		return RecordDone
	default:
		return RecordDelta
	}
}

// Handler receives the events of one exchange. OnConnect is called once the
// server has accepted the request, before any record. Returning an error
// from OnRecord aborts the exchange with that error.
type Handler interface {
	OnConnect()
	OnRecord(rec StreamRecord) error
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Connect func()
	Record  func(rec StreamRecord) error
}

// OnConnect calls h.Connect.
func (h HandlerFuncs) OnConnect() {
	if h.Connect != nil {
		h.Connect()
	}
}

// OnRecord calls h.Record.
func (h HandlerFuncs) OnRecord(rec StreamRecord) error {
	if h.Record != nil {
		return h.Record(rec)
	}
	return nil
}

// ModelInfo describes a locally available model.
type ModelInfo struct {
	Name       string `json:"name"`
	Model      string `json:"model"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
	ModifiedAt string `json:"modified_at"`
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

type errorBody struct {
	Error string `json:"error"`
}
