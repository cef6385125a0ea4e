package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Partial is the tri-state truncation marker carried by shard and client
// responses.
//
// On the wire Absent is omitted entirely, True encodes as the boolean true
// and Suppressed as the string "omitted". Clients tell the two apart, so the
// mixed encoding is part of the contract.
type Partial uint8

const (
	// PartialAbsent: no budget was exceeded (or none was set).
	PartialAbsent Partial = iota
	// PartialTrue: a budget was exceeded and rows are incomplete.
	PartialTrue
	// PartialSuppressed: a budget was exceeded but the client asked not to
	// be told.
	PartialSuppressed
)

// OmittedMarker is the wire value of PartialSuppressed.
const OmittedMarker = "omitted"

func (p Partial) String() string {
	switch p {
	case PartialTrue:
		return "true"
	case PartialSuppressed:
		return OmittedMarker
	default:
		return "absent"
	}
}

// Truncated reports whether the marker records a budget overrun.
func (p Partial) Truncated() bool {
	return p == PartialTrue || p == PartialSuppressed
}

// Suppress applies the client's suppression policy to a marker.
func (p Partial) Suppress(allow bool) Partial {
	if !p.Truncated() {
		return PartialAbsent
	}
	if allow {
		return PartialSuppressed
	}
	return PartialTrue
}

// MergePartial reduces markers from several shards: any True wins, then any
// Suppressed, otherwise Absent.
func MergePartial(markers ...Partial) Partial {
	merged := PartialAbsent
	for _, p := range markers {
		switch p {
		case PartialTrue:
			return PartialTrue
		case PartialSuppressed:
			merged = PartialSuppressed
		}
	}
	return merged
}

// MarshalJSON encodes True as true and Suppressed as "omitted". Absent is
// expected to be dropped by omitempty; if it is marshaled anyway it is null.
func (p Partial) MarshalJSON() ([]byte, error) {
	switch p {
	case PartialTrue:
		return []byte("true"), nil
	case PartialSuppressed:
		return json.Marshal(OmittedMarker)
	default:
		return []byte("null"), nil
	}
}

func (p *Partial) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")), bytes.Equal(data, []byte("false")):
		*p = PartialAbsent
	case bytes.Equal(data, []byte("true")):
		*p = PartialTrue
	default:
		var s string
		if err := json.Unmarshal(data, &s); err != nil || s != OmittedMarker {
			return fmt.Errorf("plan: invalid partialResults value %s", data)
		}
		*p = PartialSuppressed
	}
	return nil
}
