package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is a MARC bibliographic record in MARC-in-JSON form
type Record struct {
	Leader string  `json:"leader"`
	Fields []Field `json:"fields"`
}

// Field is either a control field (Value set) or a data field (indicators and subfields)
type Field struct {
	Tag       string
	Value     string
	Ind1      string
	Ind2      string
	Subfields []Subfield
}

// Subfield is a single coded value inside a data field
type Subfield struct {
	Code  string
	Value string
}

type dataField struct {
	Ind1      string              `json:"ind1"`
	Ind2      string              `json:"ind2"`
	Subfields []map[string]string `json:"subfields"`
}

// ControlField builds a control field (tags 001-009)
func ControlField(tag, value string) Field {
	return Field{Tag: tag, Value: value}
}

// DataField builds a data field with subfields given as code/value pairs
func DataField(tag, ind1, ind2 string, subfields ...Subfield) Field {
	return Field{Tag: tag, Ind1: ind1, Ind2: ind2, Subfields: subfields}
}

// IsControl reports whether the field is a control field
func (f Field) IsControl() bool {
	return f.Tag < "010"
}

// MarshalJSON encodes the field as a single-key object keyed by tag
func (f Field) MarshalJSON() ([]byte, error) {
	if f.IsControl() {
		return json.Marshal(map[string]string{f.Tag: f.Value})
	}
	df := dataField{
		Ind1:      f.Ind1,
		Ind2:      f.Ind2,
		Subfields: make([]map[string]string, 0, len(f.Subfields)),
	}
	for _, sf := range f.Subfields {
		df.Subfields = append(df.Subfields, map[string]string{sf.Code: sf.Value})
	}
	return json.Marshal(map[string]dataField{f.Tag: df})
}

// UnmarshalJSON decodes a single-key object keyed by tag
func (f *Field) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("marc field must have exactly one tag, got %d", len(raw))
	}
	for tag, value := range raw {
		f.Tag = tag
		if bytes.HasPrefix(bytes.TrimSpace(value), []byte(`"`)) {
			return json.Unmarshal(value, &f.Value)
		}
		var df dataField
		if err := json.Unmarshal(value, &df); err != nil {
			return fmt.Errorf("marc field %s: %w", tag, err)
		}
		f.Ind1, f.Ind2 = df.Ind1, df.Ind2
		f.Subfields = f.Subfields[:0]
		for _, sf := range df.Subfields {
			for code, v := range sf {
				f.Subfields = append(f.Subfields, Subfield{Code: code, Value: v})
			}
		}
	}
	return nil
}

// Subfield returns the first value of tag$code, or empty string
func (r *Record) Subfield(tag, code string) string {
	for _, f := range r.Fields {
		if f.Tag != tag {
			continue
		}
		for _, sf := range f.Subfields {
			if sf.Code == code {
				return sf.Value
			}
		}
	}
	return ""
}

// Title returns 245$a followed by 245$b when present
func (r *Record) Title() string {
	title := r.Subfield("245", "a")
	if sub := r.Subfield("245", "b"); sub != "" {
		title += " : " + sub
	}
	return title
}
