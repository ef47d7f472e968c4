package protocol

import (
	"bufio"
	"io"

	json "github.com/goccy/go-json"
)

// UnknownError is the fallback body when an exchange captured neither results nor an error.
const UnknownError = "Unknown error"

// ResultRecord is one matched security.
type ResultRecord struct {
	Security    string `json:"security"`
	Description string `json:"description"`
}

// Envelope accumulates the outcome of one exchange.
//
// Results and Error may both be set when the backend session ends after
// partial results arrived; both are preserved and both are written.
type Envelope struct {
	Results []ResultRecord
	Error   string
}

// AppendResults adds records in the order received.
func (e *Envelope) AppendResults(records ...ResultRecord) {
	e.Results = append(e.Results, records...)
}

// SetError records a client-visible error description.
func (e *Envelope) SetError(description string) {
	e.Error = description
}

// Empty reports whether nothing was captured.
func (e *Envelope) Empty() bool {
	return len(e.Results) == 0 && e.Error == ""
}

type wireEnvelope struct {
	Result []ResultRecord `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// MarshalJSON renders the wire object, substituting UnknownError for an empty envelope.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Empty() {
		return json.Marshal(wireEnvelope{Error: UnknownError})
	}
	return json.Marshal(wireEnvelope{Result: e.Results, Error: e.Error})
}

// WriteResponse serialises env and writes it to w as one flushed write.
func WriteResponse(w io.Writer, env Envelope) (int, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriterSize(w, len(body))
	n, err := bw.Write(body)
	if err != nil {
		return n, err
	}
	return n, bw.Flush()
}
