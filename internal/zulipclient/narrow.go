package zulipclient

import "encoding/json"

// NarrowTerm is a single filter term of a Zulip search narrow, e.g.
// {"operator":"stream","operand":"general"}.
type NarrowTerm struct {
	Operator string `json:"operator"`
	Operand  string `json:"operand"`
}

// EncodeNarrow JSON-serializes terms into the single string value Zulip's
// `narrow` query parameter expects; url.Values.Encode then percent-encodes
// it like any other form value, including the embedded quote characters
// JSON produces around each field.
func EncodeNarrow(terms []NarrowTerm) (string, error) {
	if len(terms) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(terms)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
