package inat

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/openfield/inatmirror/internal/normalize"
)

// Envelope is the top-level wrapper the API puts around every response:
// page metadata and results on success, a status/error pair on failure.
type Envelope struct {
	Page         *uint64          `json:"page"`
	PerPage      *uint64          `json:"per_page"`
	TotalResults *uint64          `json:"total_results"`
	Results      []map[string]any `json:"results"`

	Status       *int    `json:"status"`
	ErrorMessage *string `json:"error"`
}

func decodeEnvelope(body []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, protocolf("malformed envelope: %v", err)
	}
	for i, r := range env.Results {
		env.Results[i] = foldNumbers(r).(map[string]any)
	}
	return &env, nil
}

// err reports a logical failure carried inside a transport-level success.
func (e *Envelope) err() error {
	if e.Status != nil && (*e.Status < 200 || *e.Status > 299) {
		msg := ""
		if e.ErrorMessage != nil {
			msg = *e.ErrorMessage
		}
		return &StatusError{Status: *e.Status, Message: msg}
	}
	if e.ErrorMessage != nil {
		return protocolf("error envelope: %s", *e.ErrorMessage)
	}
	return nil
}

// lastPage reports whether this page completes the result set:
// page * per_page >= total_results.
func (e *Envelope) lastPage() (bool, error) {
	if e.Page == nil || e.PerPage == nil || e.TotalResults == nil {
		return false, protocolf("envelope missing page metadata")
	}
	return *e.Page**e.PerPage >= *e.TotalResults, nil
}

// singleResult unwraps an envelope that must carry exactly one entity.
func (e *Envelope) singleResult() (map[string]any, error) {
	for name, v := range map[string]*uint64{
		"page":          e.Page,
		"per_page":      e.PerPage,
		"total_results": e.TotalResults,
	} {
		if v != nil && *v != 1 {
			return nil, protocolf("expected %s 1, got %d", name, *v)
		}
	}
	if len(e.Results) == 0 {
		return nil, protocolf("empty results array")
	}
	return e.Results[0], nil
}

// resultIDs extracts each result's numeric id, in page order.
func (e *Envelope) resultIDs() ([]uint64, error) {
	ids := make([]uint64, 0, len(e.Results))
	for _, r := range e.Results {
		id, err := normalize.EntityID(r)
		if err != nil {
			return nil, protocolf("listing entry: %v", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// embeddedError digs the error message out of a failure body, falling
// back to the raw text.
func embeddedError(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}

// foldNumbers rewrites json.Number values into int64, uint64 or float64
// so ids keep full precision and cached documents serialize as plain
// scalars.
func foldNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		s := val.String()
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return s
	case map[string]any:
		for k, item := range val {
			val[k] = foldNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = foldNumbers(item)
		}
		return val
	default:
		return v
	}
}
