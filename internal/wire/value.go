package wire

import "fmt"

// Value is the closed set of values the stylesheet-language value graph
// admits (spec.md §3 "Value graph for custom functions"). Equality is
// structural. Every variant is a plain value type except *ArgumentList,
// which AccessKeywords mutates to record that its keywords were read. No
// hash function is defined on values.
type Value interface {
	valueTag() string
}

// ListSeparator names the separator a List value was constructed with.
type ListSeparator uint8

const (
	SeparatorSpace ListSeparator = iota
	SeparatorComma
	SeparatorSlash
	SeparatorUndecided
)

// Null is the sole null value.
type Null struct{}

func (Null) valueTag() string { return "null" }

// Boolean is a true/false value.
type Boolean struct{ Value bool }

func (Boolean) valueTag() string { return "boolean" }

// Number is a numeric value whose units are plain unit names, each raised
// to an implicit power of one. It tracks numerator and denominator unit
// lists separately so e.g. px/s and s/px are distinguishable before
// simplification.
type Number struct {
	Value            float64
	NumeratorUnits   []string
	DenominatorUnits []string
}

func (Number) valueTag() string { return "number" }

// Canonicalize drops trailing empty unit lists to their canonical absent
// form, per spec.md §4.6 "trailing empty unit lists are canonicalized to
// absent."
func (n Number) Canonicalize() Number {
	out := n
	if len(out.NumeratorUnits) == 0 {
		out.NumeratorUnits = nil
	}
	if len(out.DenominatorUnits) == 0 {
		out.DenominatorUnits = nil
	}
	return out
}

// Str is a quoted or unquoted string.
type Str struct {
	Text   string
	Quoted bool
}

func (Str) valueTag() string { return "string" }

// ColorSpace names the space a Color value's channels are expressed in.
type ColorSpace string

const (
	ColorSpaceRGB   ColorSpace = "rgb"
	ColorSpaceHSL   ColorSpace = "hsl"
	ColorSpaceHWB   ColorSpace = "hwb"
	ColorSpaceLab   ColorSpace = "lab"
	ColorSpaceLCH   ColorSpace = "lch"
	ColorSpaceOKLab ColorSpace = "oklab"
	ColorSpaceOKLCH ColorSpace = "oklch"
)

// Color is a space-tagged color value. Channel1..3 are the space's three
// channels (e.g. r, g, b) and Alpha is always 0..1.
type Color struct {
	Space    ColorSpace
	Channel1 float64
	Channel2 float64
	Channel3 float64
	Alpha    float64
}

func (Color) valueTag() string { return "color" }

// List is an ordered, possibly-bracketed sequence of values.
type List struct {
	Elements  []Value
	Separator ListSeparator
	Brackets  bool
}

func (List) valueTag() string { return "list" }

// Validate enforces spec.md §4.6: "undecided separator forbidden for
// lists of two or more elements."
func (l List) Validate() error {
	if l.Separator == SeparatorUndecided && len(l.Elements) >= 2 {
		return fmt.Errorf("list: undecided separator is not allowed for %d elements", len(l.Elements))
	}
	return nil
}

// MapEntry is one key/value pair of a Map, preserved in insertion order.
type MapEntry struct {
	Key   Value
	Value Value
}

// Map is an ordered key->value association.
type Map struct {
	Entries []MapEntry
}

func (Map) valueTag() string { return "map" }

// ArgumentList is a List that also carries named (keyword) arguments, used
// to pass a function's variadic/rest arguments. KeywordsAccessed is set the
// first time the host inspects Keywords (spec.md §4.6).
type ArgumentList struct {
	List             List
	Keywords         map[string]Value
	KeywordsAccessed bool
}

func (*ArgumentList) valueTag() string { return "argumentList" }

// AccessKeywords returns Keywords and marks them as having been read.
func (a *ArgumentList) AccessKeywords() map[string]Value {
	a.KeywordsAccessed = true
	return a.Keywords
}

// FunctionRef identifies a function or mixin value, either by its
// stylesheet-visible signature or by an opaque host-allocated id for a
// function value that only exists at runtime (spec.md §4.6).
type FunctionRef struct {
	Signature string
	HostID    *uint64
}

func (FunctionRef) valueTag() string { return "function" }

// CalculationOperator names a calculation node's operator.
type CalculationOperator string

const (
	CalcSum     CalculationOperator = "sum"
	CalcProduct CalculationOperator = "product"
	CalcMin     CalculationOperator = "min"
	CalcMax     CalculationOperator = "max"
	CalcClamp   CalculationOperator = "clamp"
)

// CalculationOperand is one operand of a Calculation: a Number, a nested
// Calculation, an interpolated string, or a bare variable name.
type CalculationOperand struct {
	Number      *Number
	Calculation *Calculation
	String      *string
	Variable    *string
}

// Calculation is a sum/product/min/max/clamp tree over operands.
type Calculation struct {
	Operator CalculationOperator
	Operands []CalculationOperand
}

func (Calculation) valueTag() string { return "calculation" }
