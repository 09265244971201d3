package remotecmd

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Envelope is the JSON payload exchanged by remotexec peers:
//
//	{"id":"...","name":"...","type":"request","sent":"...","params":{...},"payload":...}
type Envelope struct {
	ID     string
	Name   string
	Params map[string]string
	// Payload is embedded verbatim and must be valid JSON when set.
	Payload []byte
	// Result is the payload of the response form.
	Result []byte
	Error  string
	Sent   time.Time
}

// NewEnvelope creates a request envelope with a fresh id.
func NewEnvelope(name string, params map[string]string) *Envelope {
	return &Envelope{ID: uuid.New().String(), Name: name, Params: params}
}

func (e *Envelope) AssembleRequest() ([]byte, error) {
	doc, err := e.base("request")
	if err != nil {
		return nil, err
	}
	if len(e.Payload) > 0 {
		if !gjson.ValidBytes(e.Payload) {
			return nil, errors.New("payload is not valid JSON")
		}
		if doc, err = sjson.SetRawBytes(doc, "payload", e.Payload); err != nil {
			return nil, errors.Wrap(err, "failed to set payload")
		}
	}
	return doc, nil
}

func (e *Envelope) AssembleResponse() ([]byte, error) {
	doc, err := e.base("response")
	if err != nil {
		return nil, err
	}
	if len(e.Result) > 0 {
		if !gjson.ValidBytes(e.Result) {
			return nil, errors.New("result is not valid JSON")
		}
		if doc, err = sjson.SetRawBytes(doc, "result", e.Result); err != nil {
			return nil, errors.Wrap(err, "failed to set result")
		}
	}
	if e.Error != "" {
		if doc, err = sjson.SetBytes(doc, "error", e.Error); err != nil {
			return nil, errors.Wrap(err, "failed to set error")
		}
	}
	return doc, nil
}

func (e *Envelope) base(kind string) ([]byte, error) {
	if e.Name == "" {
		return nil, errors.New("envelope has no name")
	}
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	sent := e.Sent
	if sent.IsZero() {
		sent = time.Now().UTC()
	}

	doc := []byte(`{}`)
	var err error
	set := func(path string, value interface{}) {
		if err == nil {
			doc, err = sjson.SetBytes(doc, path, value)
		}
	}
	set("id", id)
	set("name", e.Name)
	set("type", kind)
	set("sent", sent.Format(time.RFC3339Nano))

	keys := make([]string, 0, len(e.Params))
	for k := range e.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		set("params."+escapePath(k), e.Params[k])
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to assemble envelope")
	}
	return doc, nil
}

// escapePath escapes the characters sjson treats as path syntax.
func escapePath(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}

// ParseEnvelope reads an envelope produced by AssembleRequest or
// AssembleResponse. It reports whether the document was a request.
func ParseEnvelope(data []byte) (*Envelope, bool, error) {
	if !gjson.ValidBytes(data) {
		return nil, false, errors.New("envelope is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	name := doc.Get("name")
	if !name.Exists() || name.String() == "" {
		return nil, false, errors.New("envelope has no name")
	}

	e := &Envelope{
		ID:    doc.Get("id").String(),
		Name:  name.String(),
		Error: doc.Get("error").String(),
	}
	if sent := doc.Get("sent"); sent.Exists() {
		t, err := time.Parse(time.RFC3339Nano, sent.String())
		if err != nil {
			return nil, false, errors.Wrap(err, "invalid sent timestamp")
		}
		e.Sent = t
	}
	if params := doc.Get("params"); params.IsObject() {
		e.Params = make(map[string]string)
		params.ForEach(func(k, v gjson.Result) bool {
			e.Params[k.String()] = v.String()
			return true
		})
	}
	if p := doc.Get("payload"); p.Exists() {
		e.Payload = []byte(p.Raw)
	}
	if r := doc.Get("result"); r.Exists() {
		e.Result = []byte(r.Raw)
	}
	return e, doc.Get("type").String() != "response", nil
}

// Reply builds the response envelope to e.
func (e *Envelope) Reply(result []byte, failure error) *Envelope {
	r := &Envelope{ID: e.ID, Name: e.Name, Result: result}
	if failure != nil {
		r.Error = failure.Error()
	}
	return r
}
