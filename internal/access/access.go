// Package access decides whether an inbound event may be served, based on an
// allow-list of LINE user, group and room IDs.
package access

import "strings"

// Kind is the type of chat an event originated from.
type Kind string

const (
	KindUser    Kind = "user"
	KindGroup   Kind = "group"
	KindRoom    Kind = "room"
	KindUnknown Kind = "unknown"
)

// Origin identifies where an event came from.
type Origin struct {
	ID   string
	Kind Kind
}

// EventClass separates events that are always served from gated ones.
type EventClass int

const (
	ClassMessage EventClass = iota
	// ClassFollow is a user adding the bot as a contact. Never gated.
	ClassFollow
)

// AllowList is the set of permitted origin IDs. An empty list allows everyone.
type AllowList struct {
	ids map[string]struct{}
}

// ParseAllowList reads a comma-separated ID list. Entries are trimmed and
// empty entries dropped; matching is exact and case-sensitive.
func ParseAllowList(raw string) AllowList {
	var l AllowList
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if l.ids == nil {
			l.ids = make(map[string]struct{})
		}
		l.ids[id] = struct{}{}
	}
	return l
}

// Configured reports whether any IDs are listed.
func (l AllowList) Configured() bool { return len(l.ids) > 0 }

// Contains reports exact membership.
func (l AllowList) Contains(id string) bool {
	_, ok := l.ids[id]
	return ok
}

// Len returns the number of listed IDs.
func (l AllowList) Len() int { return len(l.ids) }

// Decision is the gate's verdict for one event.
type Decision struct {
	Allowed         bool
	OriginatingID   string
	OriginatingKind Kind
}

// Check applies the allow-list. An origin without an ID is denied once a
// list is configured.
func Check(origin Origin, class EventClass, list AllowList) Decision {
	d := Decision{OriginatingID: origin.ID, OriginatingKind: origin.Kind}
	switch {
	case class == ClassFollow:
		d.Allowed = true
	case !list.Configured():
		d.Allowed = true
	default:
		d.Allowed = origin.ID != "" && list.Contains(origin.ID)
	}
	return d
}
