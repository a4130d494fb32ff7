package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AnswerKind tags the shape of an AnswerValue.
type AnswerKind uint8

const (
	KindNone AnswerKind = iota
	KindSingle
	KindMulti
)

// AnswerValue is either a single string or an ordered set of strings.
// The zero value is an empty answer.
type AnswerValue struct {
	kind   AnswerKind
	single string
	multi  []string
}

// SingleAnswer wraps a free-text or single choice value.
func SingleAnswer(s string) AnswerValue {
	return AnswerValue{kind: KindSingle, single: s}
}

// MultiAnswer builds a set answer; duplicates are dropped, first occurrence wins.
func MultiAnswer(values ...string) AnswerValue {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return AnswerValue{kind: KindMulti, multi: out}
}

func (v AnswerValue) Kind() AnswerKind { return v.kind }

// Single returns the string payload of a single answer.
func (v AnswerValue) Single() string { return v.single }

// Values returns the answer as a list: one element for single answers.
func (v AnswerValue) Values() []string {
	switch v.kind {
	case KindSingle:
		return []string{v.single}
	case KindMulti:
		out := make([]string, len(v.multi))
		copy(out, v.multi)
		return out
	}
	return nil
}

// IsEmpty reports whether the value counts as unanswered.
func (v AnswerValue) IsEmpty() bool {
	switch v.kind {
	case KindSingle:
		return v.single == ""
	case KindMulti:
		return len(v.multi) == 0
	}
	return true
}

// Equal compares two values; multi answers compare as sets.
func (v AnswerValue) Equal(o AnswerValue) bool {
	if v.IsEmpty() || o.IsEmpty() {
		return v.IsEmpty() && o.IsEmpty()
	}
	if v.kind != o.kind {
		return false
	}
	if v.kind == KindSingle {
		return v.single == o.single
	}
	return sameSet(v.multi, o.multi)
}

func (v AnswerValue) String() string {
	switch v.kind {
	case KindSingle:
		return v.single
	case KindMulti:
		return fmt.Sprint(v.multi)
	}
	return ""
}

// MarshalJSON writes a string, an array of strings or null.
func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindSingle:
		return json.Marshal(v.single)
	case KindMulti:
		if v.multi == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.multi)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts a string, an array of strings or null.
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*v = AnswerValue{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = SingleAnswer(s)
		return nil
	case data[0] == '[':
		var values []string
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("answer set: %w", err)
		}
		*v = MultiAnswer(values...)
		return nil
	}
	return fmt.Errorf("answer must be a string or a list of strings: %w", ErrInvalidAnswer)
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}
