package plan

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidSort = errors.New("plan: invalid sort")

// IDField is the document identifier field. It is always the final tie
// breaker.
const IDField = "id"

// Row is one matched document.
type Row struct {
	ID     string         `json:"id"`
	Shard  string         `json:"-"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Sort orders rows by a single field.
type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// DefaultSort is "id asc".
func DefaultSort() Sort {
	return Sort{Field: IDField}
}

// ParseSort parses "<field> asc|desc". An empty string yields DefaultSort.
func ParseSort(s string) (Sort, error) {
	parts := strings.Fields(s)
	switch len(parts) {
	case 0:
		return DefaultSort(), nil
	case 1:
		return Sort{Field: parts[0]}, nil
	case 2:
		switch strings.ToLower(parts[1]) {
		case "asc":
			return Sort{Field: parts[0]}, nil
		case "desc":
			return Sort{Field: parts[0], Desc: true}, nil
		}
	}
	return Sort{}, fmt.Errorf("%w: %q", ErrInvalidSort, s)
}

func (s Sort) String() string {
	dir := "asc"
	if s.Desc {
		dir = "desc"
	}
	return s.Field + " " + dir
}

// Less reports whether a sorts before b. Ties on the sort field fall back to
// the document ID, then the shard, so the order is total and deterministic.
func (s Sort) Less(a, b Row) bool {
	if s.Field != IDField {
		if c := compareValues(a.Fields[s.Field], b.Fields[s.Field]); c != 0 {
			// Missing values sort last in both directions.
			if a.Fields[s.Field] == nil || b.Fields[s.Field] == nil {
				return c < 0
			}
			if s.Desc {
				return c > 0
			}
			return c < 0
		}
	}
	if a.ID != b.ID {
		if s.Desc && s.Field == IDField {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	}
	return a.Shard < b.Shard
}

// compareValues orders numbers before strings and anything before nil.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return 1
		default:
			return -1
		}
	}

	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	switch {
	case aNum && bNum:
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case aNum:
		return -1
	case bNum:
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
