package param

import (
	"encoding/json"
	"fmt"
)

// wire payload shapes, one per Kind; only the relevant fields are non-zero.
type wirePayload struct {
	Value    *string          `json:"value,omitempty"`
	Name     *string          `json:"name,omitempty"`
	Path     *string          `json:"path,omitempty"`
	Filepath *string          `json:"filepath,omitempty"`
	Hostname *string          `json:"hostname,omitempty"`
	Tmpl     *string          `json:"tmpl,omitempty"`
	Args     map[string]*Param `json:"args,omitempty"`
}

// MarshalJSON encodes p as a single-key discriminated union, e.g.
// {"Str": {"value": "..."}} or {"InLocalFile": {"filepath": "...", "hostname": "..."}}.
func (p *Param) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}

	var payload wirePayload
	switch p.Kind {
	case KindStr:
		payload.Value = &p.Value
	case KindEnv, KindRemoteEnv, KindCmdName:
		payload.Name = &p.Name
	case KindCmdPath:
		payload.Path = &p.Path
	case KindInLocalFile, KindOutLocalFile, KindInCloudFile, KindOutCloudFile:
		payload.Filepath = &p.Filepath
		payload.Hostname = &p.Hostname
	case KindFormat:
		payload.Tmpl = &p.Tmpl
		payload.Args = p.Args
	default:
		return nil, fmt.Errorf("param: marshal unknown kind %q", p.Kind)
	}

	inner, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{string(p.Kind): inner})
}

// UnmarshalJSON decodes the single-key discriminated union back into a Param.
func (p *Param) UnmarshalJSON(data []byte) error {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return fmt.Errorf("param: decode envelope: %w", err)
	}
	if len(outer) != 1 {
		return fmt.Errorf("param: expected exactly one variant key, got %d", len(outer))
	}

	for kind, raw := range outer {
		var payload wirePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("param: decode %s payload: %w", kind, err)
		}

		p.Kind = Kind(kind)
		switch p.Kind {
		case KindStr:
			p.Value = derefStr(payload.Value)
		case KindEnv, KindRemoteEnv, KindCmdName:
			p.Name = derefStr(payload.Name)
		case KindCmdPath:
			p.Path = derefStr(payload.Path)
		case KindInLocalFile, KindOutLocalFile, KindInCloudFile, KindOutCloudFile:
			p.Filepath = derefStr(payload.Filepath)
			p.Hostname = derefStr(payload.Hostname)
		case KindFormat:
			p.Tmpl = derefStr(payload.Tmpl)
			p.Args = payload.Args
		default:
			return fmt.Errorf("param: unknown variant %q", kind)
		}
	}

	return nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
