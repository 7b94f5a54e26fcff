package wire

import "fmt"

// Value-graph CBOR tag constants. Key 0 of every encoded value map carries
// one of these; the remaining keys are variant-specific, following the
// same small-integer convention as the message codec.
const (
	vtNull uint8 = iota
	vtBoolean
	vtNumber
	vtString
	vtColor
	vtList
	vtMap
	vtArgumentList
	vtFunction
	vtCalculation
)

func encodeValue(v Value) (map[int]interface{}, error) {
	if v == nil {
		return map[int]interface{}{0: vtNull}, nil
	}

	switch val := v.(type) {
	case Null:
		return map[int]interface{}{0: vtNull}, nil

	case Boolean:
		return map[int]interface{}{0: vtBoolean, 1: val.Value}, nil

	case Number:
		n := val.Canonicalize()
		m := map[int]interface{}{0: vtNumber, 1: n.Value}
		if len(n.NumeratorUnits) > 0 {
			m[2] = n.NumeratorUnits
		}
		if len(n.DenominatorUnits) > 0 {
			m[3] = n.DenominatorUnits
		}
		return m, nil

	case Str:
		return map[int]interface{}{0: vtString, 1: val.Text, 2: val.Quoted}, nil

	case Color:
		return map[int]interface{}{
			0: vtColor,
			1: string(val.Space),
			2: val.Channel1,
			3: val.Channel2,
			4: val.Channel3,
			5: val.Alpha,
		}, nil

	case List:
		if err := val.Validate(); err != nil {
			return nil, err
		}
		elems := make([]interface{}, len(val.Elements))
		for i, e := range val.Elements {
			enc, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			elems[i] = enc
		}
		return map[int]interface{}{
			0: vtList,
			1: elems,
			2: uint8(val.Separator),
			3: val.Brackets,
		}, nil

	case Map:
		entries := make([]interface{}, len(val.Entries))
		for i, e := range val.Entries {
			k, err := encodeValue(e.Key)
			if err != nil {
				return nil, err
			}
			vv, err := encodeValue(e.Value)
			if err != nil {
				return nil, err
			}
			entries[i] = map[int]interface{}{0: k, 1: vv}
		}
		return map[int]interface{}{0: vtMap, 1: entries}, nil

	case *ArgumentList:
		listEnc, err := encodeValue(val.List)
		if err != nil {
			return nil, err
		}
		m := map[int]interface{}{0: vtArgumentList, 1: listEnc, 3: val.KeywordsAccessed}
		if len(val.Keywords) > 0 {
			kw := make(map[string]interface{}, len(val.Keywords))
			for name, kv := range val.Keywords {
				enc, err := encodeValue(kv)
				if err != nil {
					return nil, err
				}
				kw[name] = enc
			}
			m[2] = kw
		}
		return m, nil

	case FunctionRef:
		m := map[int]interface{}{0: vtFunction}
		if val.Signature != "" {
			m[1] = val.Signature
		}
		if val.HostID != nil {
			m[2] = *val.HostID
		}
		return m, nil

	case Calculation:
		operands := make([]interface{}, len(val.Operands))
		for i, op := range val.Operands {
			enc, err := encodeCalculationOperand(op)
			if err != nil {
				return nil, err
			}
			operands[i] = enc
		}
		return map[int]interface{}{
			0: vtCalculation,
			1: string(val.Operator),
			2: operands,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown value type %T", ErrMalformedMessage, v)
	}
}

func encodeCalculationOperand(op CalculationOperand) (map[int]interface{}, error) {
	switch {
	case op.Number != nil:
		n, err := encodeValue(*op.Number)
		if err != nil {
			return nil, err
		}
		return map[int]interface{}{0: n}, nil
	case op.Calculation != nil:
		c, err := encodeValue(*op.Calculation)
		if err != nil {
			return nil, err
		}
		return map[int]interface{}{1: c}, nil
	case op.String != nil:
		return map[int]interface{}{2: *op.String}, nil
	case op.Variable != nil:
		return map[int]interface{}{3: *op.Variable}, nil
	default:
		return nil, fmt.Errorf("%w: calculation operand has no variant set", ErrMalformedMessage)
	}
}

func decodeValue(raw interface{}) (Value, error) {
	m, err := toIntMap(raw)
	if err != nil {
		return nil, err
	}
	tagRaw, ok := intKey(m, 0)
	if !ok {
		return nil, fmt.Errorf("%w: value missing tag", ErrMalformedMessage)
	}
	switch uint8(tagRaw) {
	case vtNull:
		return Null{}, nil

	case vtBoolean:
		b, _ := m[1].(bool)
		return Boolean{Value: b}, nil

	case vtNumber:
		n := Number{}
		if f, ok := m[1].(float64); ok {
			n.Value = f
		}
		if raw, ok := m[2]; ok {
			n.NumeratorUnits = toStringSlice(raw)
		}
		if raw, ok := m[3]; ok {
			n.DenominatorUnits = toStringSlice(raw)
		}
		return n, nil

	case vtString:
		text, _ := m[1].(string)
		quoted, _ := m[2].(bool)
		return Str{Text: text, Quoted: quoted}, nil

	case vtColor:
		space, _ := m[1].(string)
		c1, _ := m[2].(float64)
		c2, _ := m[3].(float64)
		c3, _ := m[4].(float64)
		alpha, _ := m[5].(float64)
		return Color{Space: ColorSpace(space), Channel1: c1, Channel2: c2, Channel3: c3, Alpha: alpha}, nil

	case vtList:
		elemsRaw, _ := m[1].([]interface{})
		elems := make([]Value, len(elemsRaw))
		for i, e := range elemsRaw {
			v, err := decodeValue(e)
			if err != nil {
				return nil, err
			}
			elems[i] = v
		}
		sep, _ := intKey(m, 2)
		brackets, _ := m[3].(bool)
		list := List{Elements: elems, Separator: ListSeparator(sep), Brackets: brackets}
		if err := list.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return list, nil

	case vtMap:
		entriesRaw, _ := m[1].([]interface{})
		entries := make([]MapEntry, len(entriesRaw))
		for i, e := range entriesRaw {
			em, err := toIntMap(e)
			if err != nil {
				return nil, err
			}
			k, err := decodeValue(em[0])
			if err != nil {
				return nil, err
			}
			vv, err := decodeValue(em[1])
			if err != nil {
				return nil, err
			}
			entries[i] = MapEntry{Key: k, Value: vv}
		}
		return Map{Entries: entries}, nil

	case vtArgumentList:
		listRaw, ok := m[1]
		if !ok {
			return nil, fmt.Errorf("%w: argumentList missing list", ErrMalformedMessage)
		}
		listVal, err := decodeValue(listRaw)
		if err != nil {
			return nil, err
		}
		list, ok := listVal.(List)
		if !ok {
			return nil, fmt.Errorf("%w: argumentList.list is not a list", ErrMalformedMessage)
		}
		al := &ArgumentList{List: list}
		if kwRaw, ok := m[2]; ok {
			kwMap, err := toStringKeyedMap(kwRaw)
			if err != nil {
				return nil, err
			}
			keywords := make(map[string]Value, len(kwMap))
			for name, v := range kwMap {
				dv, err := decodeValue(v)
				if err != nil {
					return nil, err
				}
				keywords[name] = dv
			}
			al.Keywords = keywords
		}
		al.KeywordsAccessed, _ = m[3].(bool)
		return al, nil

	case vtFunction:
		ref := FunctionRef{}
		if sig, ok := m[1].(string); ok {
			ref.Signature = sig
		}
		if id, ok := uintKey(m, 2); ok {
			ref.HostID = &id
		}
		return ref, nil

	case vtCalculation:
		op, _ := m[1].(string)
		operandsRaw, _ := m[2].([]interface{})
		operands := make([]CalculationOperand, len(operandsRaw))
		for i, raw := range operandsRaw {
			operand, err := decodeCalculationOperand(raw)
			if err != nil {
				return nil, err
			}
			operands[i] = operand
		}
		return Calculation{Operator: CalculationOperator(op), Operands: operands}, nil

	default:
		return nil, fmt.Errorf("%w: unknown value tag %d", ErrMalformedMessage, tagRaw)
	}
}

func decodeCalculationOperand(raw interface{}) (CalculationOperand, error) {
	m, err := toIntMap(raw)
	if err != nil {
		return CalculationOperand{}, err
	}
	if nRaw, ok := m[0]; ok {
		v, err := decodeValue(nRaw)
		if err != nil {
			return CalculationOperand{}, err
		}
		n, ok := v.(Number)
		if !ok {
			return CalculationOperand{}, fmt.Errorf("%w: calculation operand number is not a Number", ErrMalformedMessage)
		}
		return CalculationOperand{Number: &n}, nil
	}
	if cRaw, ok := m[1]; ok {
		v, err := decodeValue(cRaw)
		if err != nil {
			return CalculationOperand{}, err
		}
		c, ok := v.(Calculation)
		if !ok {
			return CalculationOperand{}, fmt.Errorf("%w: calculation operand calculation is not a Calculation", ErrMalformedMessage)
		}
		return CalculationOperand{Calculation: &c}, nil
	}
	if s, ok := m[2].(string); ok {
		return CalculationOperand{String: &s}, nil
	}
	if v, ok := m[3].(string); ok {
		return CalculationOperand{Variable: &v}, nil
	}
	return CalculationOperand{}, fmt.Errorf("%w: calculation operand has no variant set", ErrMalformedMessage)
}

func toStringKeyedMap(raw interface{}) (map[string]interface{}, error) {
	switch v := raw.(type) {
	case map[string]interface{}:
		return v, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			s, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w: expected string-keyed map", ErrMalformedMessage)
			}
			out[s] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected string-keyed map, got %T", ErrMalformedMessage, raw)
	}
}
