package cag

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultAggregationMethod is the aggregation applied to a freshly attached indicator
const DefaultAggregationMethod = "mean"

// Indicator is a named observational signal grounding a concept
type Indicator struct {
	Name              string    `json:"name"`
	Source            string    `json:"source"`
	Unit              string    `json:"unit,omitempty"`
	Mean              float64   `json:"mean"`
	Value             float64   `json:"value"`
	Stdev             float64   `json:"stdev"`
	Time              string    `json:"time,omitempty"`
	AggAxes           []string  `json:"aggaxes,omitempty"`
	AggregationMethod string    `json:"aggregation_method"`
	Timeseries        []float64 `json:"timeseries,omitempty"`
	Samples           []float64 `json:"samples,omitempty"`
}

// NewIndicator returns an indicator with every field other than name and source at
// its default
func NewIndicator(name, source string) Indicator {
	return Indicator{
		Name:              name,
		Source:            source,
		AggregationMethod: DefaultAggregationMethod,
	}
}

// clone returns a deep copy so callers never alias the node's slices
func (ind Indicator) clone() Indicator {
	ind.AggAxes = slices.Clone(ind.AggAxes)
	ind.Timeseries = slices.Clone(ind.Timeseries)
	ind.Samples = slices.Clone(ind.Samples)
	return ind
}

// Kind is the static type of an indicator attribute
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindFloat
	KindStrings
	KindFloats
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFloat:
		return "number"
	case KindStrings:
		return "list of strings"
	case KindFloats:
		return "list of numbers"
	default:
		return "invalid"
	}
}

// Attribute names one field of an Indicator
type Attribute int

const (
	AttrName Attribute = iota + 1
	AttrSource
	AttrUnit
	AttrMean
	AttrValue
	AttrStdev
	AttrTime
	AttrAggAxes
	AttrAggregationMethod
	AttrTimeseries
	AttrSamples
)

var attributeKeys = map[Attribute]string{
	AttrName:              "name",
	AttrSource:            "source",
	AttrUnit:              "unit",
	AttrMean:              "mean",
	AttrValue:             "value",
	AttrStdev:             "stdev",
	AttrTime:              "time",
	AttrAggAxes:           "aggaxes",
	AttrAggregationMethod: "aggregation_method",
	AttrTimeseries:        "timeseries",
	AttrSamples:           "samples",
}

var attributeKinds = map[Attribute]Kind{
	AttrName:              KindString,
	AttrSource:            KindString,
	AttrUnit:              KindString,
	AttrMean:              KindFloat,
	AttrValue:             KindFloat,
	AttrStdev:             KindFloat,
	AttrTime:              KindString,
	AttrAggAxes:           KindStrings,
	AttrAggregationMethod: KindString,
	AttrTimeseries:        KindFloats,
	AttrSamples:           KindFloats,
}

// Attributes lists every attribute in declaration order
func Attributes() []Attribute {
	return []Attribute{
		AttrName, AttrSource, AttrUnit, AttrMean, AttrValue, AttrStdev,
		AttrTime, AttrAggAxes, AttrAggregationMethod, AttrTimeseries, AttrSamples,
	}
}

// ParseAttribute maps a key such as "mean" or "aggregation_method" to its Attribute
func ParseAttribute(key string) (Attribute, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	for attr, name := range attributeKeys {
		if name == k {
			return attr, nil
		}
	}
	return 0, &AttributeError{Key: key, Reason: "unknown attribute"}
}

func (a Attribute) String() string {
	if k, ok := attributeKeys[a]; ok {
		return k
	}
	return fmt.Sprintf("attribute(%d)", int(a))
}

// Kind returns the value kind the attribute holds
func (a Attribute) Kind() Kind {
	return attributeKinds[a]
}

// Settable reports whether the attribute may be written through SetIndicatorAttribute.
// The name is the index key and only changes through ReplaceIndicator.
func (a Attribute) Settable() bool {
	_, known := attributeKeys[a]
	return known && a != AttrName
}

// Value is a tagged attribute value. The zero Value has KindInvalid.
type Value struct {
	kind Kind
	str  string
	num  float64
	strs []string
	nums []float64
}

// StringValue wraps a string
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// FloatValue wraps a number
func FloatValue(f float64) Value { return Value{kind: KindFloat, num: f} }

// StringsValue wraps a list of strings
func StringsValue(ss []string) Value { return Value{kind: KindStrings, strs: slices.Clone(ss)} }

// FloatsValue wraps a list of numbers
func FloatsValue(fs []float64) Value { return Value{kind: KindFloats, nums: slices.Clone(fs)} }

// Kind returns the runtime tag
func (v Value) Kind() Kind { return v.kind }

// AsString returns the string payload; ok is false for other kinds
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsFloat returns the numeric payload; ok is false for other kinds
func (v Value) AsFloat() (float64, bool) { return v.num, v.kind == KindFloat }

// AsStrings returns a copy of the string-list payload; ok is false for other kinds
func (v Value) AsStrings() ([]string, bool) { return slices.Clone(v.strs), v.kind == KindStrings }

// AsFloats returns a copy of the number-list payload; ok is false for other kinds
func (v Value) AsFloats() ([]float64, bool) { return slices.Clone(v.nums), v.kind == KindFloats }

// Any returns the payload as a plain Go value (string, float64, []string or []float64)
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindFloat:
		return v.num
	case KindStrings:
		return slices.Clone(v.strs)
	case KindFloats:
		return slices.Clone(v.nums)
	default:
		return nil
	}
}

// Equal reports whether two values have the same kind and payload
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindFloat:
		return v.num == o.num
	case KindStrings:
		return slices.Equal(v.strs, o.strs)
	case KindFloats:
		return slices.Equal(v.nums, o.nums)
	default:
		return true
	}
}

// ValueFromAny converts a decoded JSON value into the kind attr expects.
// Numbers arrive as float64 and lists as []any from encoding/json.
func ValueFromAny(attr Attribute, raw any) (Value, error) {
	bad := func() (Value, error) {
		return Value{}, &AttributeError{Key: attr.String(), Reason: fmt.Sprintf("expected %s, got %T", attr.Kind(), raw)}
	}
	switch attr.Kind() {
	case KindString:
		s, ok := raw.(string)
		if !ok {
			return bad()
		}
		return StringValue(s), nil
	case KindFloat:
		switch n := raw.(type) {
		case float64:
			return FloatValue(n), nil
		case int:
			return FloatValue(float64(n)), nil
		}
		return bad()
	case KindStrings:
		switch list := raw.(type) {
		case []string:
			return StringsValue(list), nil
		case []any:
			out := make([]string, 0, len(list))
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return bad()
				}
				out = append(out, s)
			}
			return StringsValue(out), nil
		}
		return bad()
	case KindFloats:
		switch list := raw.(type) {
		case []float64:
			return FloatsValue(list), nil
		case []any:
			out := make([]float64, 0, len(list))
			for _, item := range list {
				f, ok := item.(float64)
				if !ok {
					return bad()
				}
				out = append(out, f)
			}
			return FloatsValue(out), nil
		}
		return bad()
	}
	return Value{}, &AttributeError{Key: attr.String(), Reason: "unknown attribute"}
}

// get reads attr from ind
func (ind *Indicator) get(attr Attribute) (Value, error) {
	switch attr {
	case AttrName:
		return StringValue(ind.Name), nil
	case AttrSource:
		return StringValue(ind.Source), nil
	case AttrUnit:
		return StringValue(ind.Unit), nil
	case AttrMean:
		return FloatValue(ind.Mean), nil
	case AttrValue:
		return FloatValue(ind.Value), nil
	case AttrStdev:
		return FloatValue(ind.Stdev), nil
	case AttrTime:
		return StringValue(ind.Time), nil
	case AttrAggAxes:
		return StringsValue(ind.AggAxes), nil
	case AttrAggregationMethod:
		return StringValue(ind.AggregationMethod), nil
	case AttrTimeseries:
		return FloatsValue(ind.Timeseries), nil
	case AttrSamples:
		return FloatsValue(ind.Samples), nil
	}
	return Value{}, &AttributeError{Key: attr.String(), Reason: "unknown attribute"}
}

// set writes v into ind. Validation happens before the write so a rejected call
// leaves ind unchanged.
func (ind *Indicator) set(attr Attribute, v Value) error {
	if _, known := attributeKeys[attr]; !known {
		return &AttributeError{Key: attr.String(), Reason: "unknown attribute"}
	}
	if attr == AttrName {
		return fmt.Errorf("%w: indicator name cannot be set, use ReplaceIndicator", ErrReadOnlyAttribute)
	}
	if v.kind != attr.Kind() {
		return &AttributeError{Key: attr.String(), Reason: fmt.Sprintf("expected %s, got %s", attr.Kind(), v.kind)}
	}
	switch attr {
	case AttrSource:
		ind.Source = v.str
	case AttrUnit:
		ind.Unit = v.str
	case AttrMean:
		ind.Mean = v.num
	case AttrValue:
		ind.Value = v.num
	case AttrStdev:
		ind.Stdev = v.num
	case AttrTime:
		ind.Time = v.str
	case AttrAggAxes:
		ind.AggAxes = slices.Clone(v.strs)
	case AttrAggregationMethod:
		ind.AggregationMethod = v.str
	case AttrTimeseries:
		ind.Timeseries = slices.Clone(v.nums)
	case AttrSamples:
		ind.Samples = slices.Clone(v.nums)
	}
	return nil
}

// indicatorSet is an ordered list of indicators with a name index.
// index[k] == i iff items[i].Name == k; only the methods below touch either field.
type indicatorSet struct {
	items []Indicator
	index map[string]int
}

// lookup is the single existence check every accessor goes through
func (s *indicatorSet) lookup(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

func (s *indicatorSet) add(ind Indicator) (int, bool) {
	if _, exists := s.lookup(ind.Name); exists {
		return -1, false
	}
	if s.index == nil {
		s.index = make(map[string]int)
	}
	i := len(s.items)
	s.items = append(s.items, ind)
	s.index[ind.Name] = i
	return i, true
}

// rekey moves the entry at oldName to newName and overwrites the record.
// Callers have already checked that oldName exists and newName is free (or equal).
func (s *indicatorSet) rekey(oldName string, ind Indicator) int {
	i := s.index[oldName]
	delete(s.index, oldName)
	s.index[ind.Name] = i
	s.items[i] = ind
	return i
}

func (s *indicatorSet) clear() {
	s.items = nil
	s.index = nil
}

func (s *indicatorSet) len() int { return len(s.items) }

// check verifies the name index against the list
func (s *indicatorSet) check() error {
	if len(s.index) != len(s.items) {
		return fmt.Errorf("indicator index has %d names for %d indicators", len(s.index), len(s.items))
	}
	for name, i := range s.index {
		if i < 0 || i >= len(s.items) {
			return fmt.Errorf("indicator %q indexed at %d, out of range", name, i)
		}
		if s.items[i].Name != name {
			return fmt.Errorf("indicator %q indexed at %d holds %q", name, i, s.items[i].Name)
		}
	}
	return nil
}
