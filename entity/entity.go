// Package entity defines typed identity values used as effect targets.
package entity

import "fmt"

// Entity is a typed identity, e.g. {Type: "UserId", ID: "u123"} or
// {Type: "AtUri", ID: "at://did:plc:abc/app.bsky.feed.post/xyz"}. It is
// distinct from plain scalar feature values and is derived deterministically
// from event data: the same payload always yields the same identity.
type Entity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// New creates an entity, stringifying the id value.
func New(entityType string, id any) Entity {
	switch v := id.(type) {
	case string:
		return Entity{Type: entityType, ID: v}
	case float64:
		// JSON numbers decode as float64; render integral values without
		// a fractional part so ids are stable across encodings.
		if v == float64(int64(v)) {
			return Entity{Type: entityType, ID: fmt.Sprintf("%d", int64(v))}
		}
		return Entity{Type: entityType, ID: fmt.Sprintf("%v", v)}
	default:
		return Entity{Type: entityType, ID: fmt.Sprintf("%v", v)}
	}
}

// String renders the entity as "Type:ID".
func (e Entity) String() string {
	return e.Type + ":" + e.ID
}
