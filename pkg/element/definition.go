package element

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is one calibration element row as supplied upstream.
// RawID keeps the identifier exactly as it was written; numeric ids are
// kept as their literal text so that "2.10" never degrades to "2.1".
type Definition struct {
	RawID           string
	Numeric         bool
	AskLookFor      string
	CalibratorNotes string
}

// HasID reports whether the row carries a usable identifier.
func (d Definition) HasID() bool {
	return strings.TrimSpace(d.RawID) != ""
}

// CanonicalID returns the normalized identifier of the row.
func (d Definition) CanonicalID() (ID, bool) {
	return NormalizeID(d.RawID)
}

// definitionJSON mirrors the calibrator export. The camelCase keys are
// accepted as aliases for hand-authored files.
type definitionJSON struct {
	ID              json.RawMessage `json:"PI-Element"`
	AltID           json.RawMessage `json:"id"`
	AskLookFor      *string         `json:"Ask/Look For"`
	AltAskLookFor   *string         `json:"askLookFor"`
	CalibratorNotes *string         `json:"Calibrator notes"`
	AltNotes        *string         `json:"calibratorNotes"`
}

// UnmarshalJSON accepts the id as a number, a string or null.
func (d *Definition) UnmarshalJSON(data []byte) error {
	var raw definitionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	idMsg := raw.ID
	if len(idMsg) == 0 {
		idMsg = raw.AltID
	}
	rawID, numeric, err := decodeJSONID(idMsg)
	if err != nil {
		return err
	}

	*d = Definition{
		RawID:           rawID,
		Numeric:         numeric,
		AskLookFor:      firstString(raw.AskLookFor, raw.AltAskLookFor),
		CalibratorNotes: firstString(raw.CalibratorNotes, raw.AltNotes),
	}
	return nil
}

// MarshalJSON writes the calibrator export shape, preserving numeric ids
// as JSON numbers.
func (d Definition) MarshalJSON() ([]byte, error) {
	var id any
	switch {
	case !d.HasID():
		id = nil
	case d.Numeric:
		id = json.Number(d.RawID)
	default:
		id = d.RawID
	}
	return json.Marshal(struct {
		ID              any    `json:"PI-Element"`
		AskLookFor      string `json:"Ask/Look For"`
		CalibratorNotes string `json:"Calibrator notes"`
	}{id, d.AskLookFor, d.CalibratorNotes})
}

func decodeJSONID(msg json.RawMessage) (string, bool, error) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return "", false, fmt.Errorf("decoding element id: %w", err)
	}

	switch v := value.(type) {
	case string:
		return v, false, nil
	case json.Number:
		return v.String(), true, nil
	default:
		return "", false, fmt.Errorf("unsupported element id %s", string(trimmed))
	}
}

func firstString(values ...*string) string {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return ""
}

// UnmarshalYAML reads a definition from a YAML mapping. Both the snake_case
// keys and the calibrator export keys are recognised.
func (d *Definition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: element definition must be a mapping", node.Line)
	}

	var def Definition
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "id", "PI-Element":
			if value.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: element id must be a scalar", value.Line)
			}
			switch value.Tag {
			case "!!null":
				def.RawID, def.Numeric = "", false
			case "!!int", "!!float":
				def.RawID, def.Numeric = value.Value, true
			default:
				def.RawID, def.Numeric = value.Value, false
			}
		case "ask_look_for", "Ask/Look For":
			def.AskLookFor = value.Value
		case "calibrator_notes", "Calibrator notes":
			def.CalibratorNotes = value.Value
		}
	}

	*d = def
	return nil
}

// MarshalYAML writes the snake_case form.
func (d Definition) MarshalYAML() (any, error) {
	idNode := &yaml.Node{Kind: yaml.ScalarNode, Value: d.RawID, Tag: "!!str"}
	switch {
	case !d.HasID():
		idNode.Tag, idNode.Value = "!!null", "null"
	case d.Numeric:
		idNode.Tag = "!!float"
		if integerBody.MatchString(d.RawID) {
			idNode.Tag = "!!int"
		}
	}

	return &yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Value: "id"}, idNode,
			{Kind: yaml.ScalarNode, Value: "ask_look_for"}, {Kind: yaml.ScalarNode, Tag: "!!str", Value: d.AskLookFor},
			{Kind: yaml.ScalarNode, Value: "calibrator_notes"}, {Kind: yaml.ScalarNode, Tag: "!!str", Value: d.CalibratorNotes},
		},
	}, nil
}
