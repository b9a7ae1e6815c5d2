package directive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// PayloadVersion is the only directive payload version the bridge speaks.
const PayloadVersion = "3"

// Envelope is the decoded form of an inbound directive. Only the fields the
// bridge inspects are modeled; the raw input is what gets forwarded.
type Envelope struct {
	Directive Directive
}

// Directive is the body of an envelope.
type Directive struct {
	Header   Header
	Endpoint *Endpoint
	Payload  *Payload
}

// Header holds the protocol version.
type Header struct {
	PayloadVersion string
}

// Endpoint is the directive target. When present it always carries a scope.
type Endpoint struct {
	Scope Scope
}

// Payload holds the optional grantee and scope used by authorization
// directives such as AcceptGrant and by discovery.
type Payload struct {
	Grantee *Scope
	Scope   *Scope
}

// Scope is an authorization scope. Token is nil when the directive does not
// carry one.
type Scope struct {
	Type  string
	Token *string
}

// Parse decodes raw into an Envelope. It only checks structure; the payload
// version and scope type are left to the caller.
//
// Field names match exactly and a modeled field given twice is rejected, so
// the fields inspected here are the ones the controller will read from the
// forwarded bytes. Unknown fields are ignored.
func Parse(raw []byte) (*Envelope, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedEnvelope)
	}

	top, err := decodeObject(raw, "", "directive")
	if err != nil {
		return nil, err
	}
	d, err := requireField(top, "", "directive")
	if err != nil {
		return nil, err
	}
	dir, err := decodeObject(d, "directive", "header", "endpoint", "payload")
	if err != nil {
		return nil, err
	}

	h, err := requireField(dir, "directive", "header")
	if err != nil {
		return nil, err
	}
	header, err := decodeObject(h, "directive.header", "payloadVersion")
	if err != nil {
		return nil, err
	}
	v, err := requireField(header, "directive.header", "payloadVersion")
	if err != nil {
		return nil, err
	}
	version, err := decodeString(v, "directive.header.payloadVersion")
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		Directive: Directive{
			Header: Header{PayloadVersion: version},
		},
	}

	if e, ok := lookup(dir, "endpoint"); ok {
		endpoint, err := decodeObject(e, "directive.endpoint", "scope")
		if err != nil {
			return nil, err
		}
		s, err := requireField(endpoint, "directive.endpoint", "scope")
		if err != nil {
			return nil, err
		}
		scope, err := decodeScope(s, "directive.endpoint.scope")
		if err != nil {
			return nil, err
		}
		env.Directive.Endpoint = &Endpoint{Scope: *scope}
	}

	if p, ok := lookup(dir, "payload"); ok {
		payload, err := decodeObject(p, "directive.payload", "grantee", "scope")
		if err != nil {
			return nil, err
		}
		env.Directive.Payload = &Payload{}
		if g, ok := lookup(payload, "grantee"); ok {
			if env.Directive.Payload.Grantee, err = decodeScope(g, "directive.payload.grantee"); err != nil {
				return nil, err
			}
		}
		if s, ok := lookup(payload, "scope"); ok {
			if env.Directive.Payload.Scope, err = decodeScope(s, "directive.payload.scope"); err != nil {
				return nil, err
			}
		}
	}

	return env, nil
}

func decodeScope(raw json.RawMessage, path string) (*Scope, error) {
	fields, err := decodeObject(raw, path, "type", "token")
	if err != nil {
		return nil, err
	}
	t, err := requireField(fields, path, "type")
	if err != nil {
		return nil, err
	}
	typ, err := decodeString(t, path+".type")
	if err != nil {
		return nil, err
	}

	scope := &Scope{Type: typ}
	if tok, ok := lookup(fields, "token"); ok {
		token, err := decodeString(tok, path+".token")
		if err != nil {
			return nil, err
		}
		scope.Token = &token
	}
	return scope, nil
}

// decodeObject returns the raw values of the named keys of a JSON object.
func decodeObject(raw json.RawMessage, path string, names ...string) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: %s is not an object", ErrMalformedEnvelope, describe(path))
	}

	fields := make(map[string]json.RawMessage, len(names))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
		}
		key, _ := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
		}

		if !slices.Contains(names, key) {
			continue
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("%w: duplicate field %s", ErrMalformedEnvelope, join(path, key))
		}
		fields[key] = value
	}
	return fields, nil
}

// lookup reports a field as absent when it is missing or null.
func lookup(fields map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	v, ok := fields[name]
	if !ok || bytes.Equal(v, []byte("null")) {
		return nil, false
	}
	return v, true
}

func requireField(fields map[string]json.RawMessage, path, name string) (json.RawMessage, error) {
	v, ok := lookup(fields, name)
	if !ok {
		return nil, fmt.Errorf("%w: missing field %s", ErrMalformedEnvelope, join(path, name))
	}
	return v, nil
}

func decodeString(raw json.RawMessage, path string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrMalformedEnvelope, path, err)
	}
	return s, nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func describe(path string) string {
	if path == "" {
		return "envelope"
	}
	return path
}
