package directive

import "fmt"

// ScopeTypeBearerToken is the only supported authorization scope type.
const ScopeTypeBearerToken = "BearerToken"

// ScopeLocation names one of the places a scope may appear in an envelope.
type ScopeLocation string

const (
	LocationEndpointScope  ScopeLocation = "endpoint.scope"
	LocationPayloadGrantee ScopeLocation = "payload.grantee"
	LocationPayloadScope   ScopeLocation = "payload.scope"
)

type scopeLookup struct {
	location ScopeLocation
	find     func(*Directive) *Scope
}

// scopeLookups are consulted in order; the first present scope is used.
var scopeLookups = []scopeLookup{
	{LocationEndpointScope, func(d *Directive) *Scope {
		if d.Endpoint == nil {
			return nil
		}
		return &d.Endpoint.Scope
	}},
	{LocationPayloadGrantee, func(d *Directive) *Scope {
		if d.Payload == nil {
			return nil
		}
		return d.Payload.Grantee
	}},
	{LocationPayloadScope, func(d *Directive) *Scope {
		if d.Payload == nil {
			return nil
		}
		return d.Payload.Scope
	}},
}

// FindScope returns the first scope present in precedence order along with
// where it was found.
func (e *Envelope) FindScope() (*Scope, ScopeLocation, error) {
	for _, l := range scopeLookups {
		if s := l.find(&e.Directive); s != nil {
			return s, l.location, nil
		}
	}
	return nil, "", ErrMissingScope
}

// ResolveCredential picks the bearer token for env. A token in the chosen
// scope wins over fallback; fallback is used only when it is non-empty.
func ResolveCredential(env *Envelope, fallback string) (string, error) {
	scope, location, err := env.FindScope()
	if err != nil {
		return "", err
	}

	if scope.Type != ScopeTypeBearerToken {
		return "", fmt.Errorf("%w: %s has type %q", ErrUnsupportedScopeType, location, scope.Type)
	}

	if scope.Token != nil {
		return *scope.Token, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", ErrMissingCredential
}
