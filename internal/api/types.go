package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Rules  GET /api/nodes/{node_id}/rules
// ---------------------------------------------------------------------------

// AccessRule is a single blocked address as published by the control plane.
// Exactly one of IP or CIDR is expected to be set; the agent treats the
// value as read-only input for one reconciliation pass.
//
// A list entry whose fields have the wrong JSON type does not fail the
// response; it decodes with Malformed set and is dropped downstream.
type AccessRule struct {
	ID      string `json:"id,omitempty"`
	IP      string `json:"ip,omitempty"`
	CIDR    string `json:"cidr,omitempty"`
	Version int    `json:"version"`

	// Malformed describes why the entry could not be decoded.
	Malformed string `json:"-"`
}

// Address returns the rule's address, preferring IP over CIDR.
func (r AccessRule) Address() string {
	if r.IP != "" {
		return r.IP
	}
	return r.CIDR
}

// UnmarshalJSON decodes one rule entry field by field. Type errors are
// recorded in Malformed instead of being returned.
func (r *AccessRule) UnmarshalJSON(data []byte) error {
	*r = AccessRule{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		r.Malformed = "entry is null"
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		r.Malformed = "entry is not an object"
		return nil
	}

	if raw, ok := fields["id"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &r.ID); err != nil {
			// Numeric ids are only used in log lines.
			r.ID = string(raw)
		}
	}
	for _, f := range []struct {
		key string
		dst any
	}{
		{"ip", &r.IP},
		{"cidr", &r.CIDR},
		{"version", &r.Version},
	} {
		raw, ok := fields[f.key]
		if !ok || isNull(raw) {
			continue
		}
		if err := json.Unmarshal(raw, f.dst); err != nil {
			r.Malformed = fmt.Sprintf("field %s: invalid value %s", f.key, raw)
			return nil
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// RulesResponse is the desired rule list for one node.
type RulesResponse struct {
	GlobalRules []AccessRule `json:"globalRules"`
	NodeRules   []AccessRule `json:"nodeRules"`
}
