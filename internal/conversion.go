package internal

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/lychee-technology/projection"
)

// wideningLattice lists the legal conversions between distinct simple types
// for non-string inputs. Strings can be parsed into any simple type.
var wideningLattice = map[projection.Type]map[projection.Type]struct{}{
	projection.TypeBytes:   typeSet(projection.TypeBoolean, projection.TypeInt, projection.TypeLong, projection.TypeFloat, projection.TypeDouble, projection.TypeString),
	projection.TypeBoolean: typeSet(projection.TypeString, projection.TypeBytes),
	projection.TypeInt:     typeSet(projection.TypeLong, projection.TypeFloat, projection.TypeDouble, projection.TypeString, projection.TypeBytes),
	projection.TypeLong:    typeSet(projection.TypeFloat, projection.TypeDouble, projection.TypeString, projection.TypeBytes),
	projection.TypeFloat:   typeSet(projection.TypeDouble, projection.TypeString, projection.TypeBytes),
	projection.TypeDouble:  typeSet(projection.TypeString, projection.TypeBytes),
}

func typeSet(types ...projection.Type) map[projection.Type]struct{} {
	m := make(map[projection.Type]struct{}, len(types))
	for _, t := range types {
		m[t] = struct{}{}
	}
	return m
}

// CanConvert reports whether values of the simple type from can be converted
// to the simple type to.
func CanConvert(from, to projection.Type) bool {
	if !from.IsSimple() || !to.IsSimple() {
		return false
	}
	if from == to || from == projection.TypeString {
		return true
	}
	_, ok := wideningLattice[from][to]
	return ok
}

// ConvertValue converts a non-null value between two non-null simple types.
func ConvertValue(value any, from, to projection.Type) (any, error) {
	if from == to {
		return value, nil
	}
	if from == projection.TypeString {
		s, ok := value.(string)
		if !ok {
			return nil, unexpectedValue(value, from)
		}
		return parseString(s, to)
	}
	if !CanConvert(from, to) {
		return nil, fmt.Errorf("cannot convert from type '%s' to type '%s'", from, to)
	}

	switch from {
	case projection.TypeBytes:
		b, ok := value.([]byte)
		if !ok {
			return nil, unexpectedValue(value, from)
		}
		return decodeBytes(b, to)
	case projection.TypeBoolean:
		v, ok := value.(bool)
		if !ok {
			return nil, unexpectedValue(value, from)
		}
		if to == projection.TypeString {
			return strconv.FormatBool(v), nil
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case projection.TypeInt:
		v, ok := value.(int32)
		if !ok {
			return nil, unexpectedValue(value, from)
		}
		switch to {
		case projection.TypeLong:
			return int64(v), nil
		case projection.TypeFloat:
			return float32(v), nil
		case projection.TypeDouble:
			return float64(v), nil
		case projection.TypeString:
			return strconv.FormatInt(int64(v), 10), nil
		default:
			return binary.BigEndian.AppendUint32(nil, uint32(v)), nil
		}
	case projection.TypeLong:
		v, ok := value.(int64)
		if !ok {
			return nil, unexpectedValue(value, from)
		}
		switch to {
		case projection.TypeFloat:
			return float32(v), nil
		case projection.TypeDouble:
			return float64(v), nil
		case projection.TypeString:
			return strconv.FormatInt(v, 10), nil
		default:
			return binary.BigEndian.AppendUint64(nil, uint64(v)), nil
		}
	case projection.TypeFloat:
		v, ok := value.(float32)
		if !ok {
			return nil, unexpectedValue(value, from)
		}
		switch to {
		case projection.TypeDouble:
			return float64(v), nil
		case projection.TypeString:
			return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
		default:
			return binary.BigEndian.AppendUint32(nil, math.Float32bits(v)), nil
		}
	case projection.TypeDouble:
		v, ok := value.(float64)
		if !ok {
			return nil, unexpectedValue(value, from)
		}
		if to == projection.TypeString {
			return strconv.FormatFloat(v, 'g', -1, 64), nil
		}
		return binary.BigEndian.AppendUint64(nil, math.Float64bits(v)), nil
	}
	return nil, fmt.Errorf("cannot convert from type '%s' to type '%s'", from, to)
}

// parseString interprets s using the canonical text form of the target type.
func parseString(s string, to projection.Type) (any, error) {
	switch to {
	case projection.TypeString:
		return s, nil
	case projection.TypeBytes:
		return []byte(s), nil
	case projection.TypeBoolean:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean '%s': %w", s, err)
		}
		return v, nil
	case projection.TypeInt:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", s, err)
		}
		return int32(v), nil
	case projection.TypeLong:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid long '%s': %w", s, err)
		}
		return v, nil
	case projection.TypeFloat:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid float '%s': %w", s, err)
		}
		return float32(v), nil
	case projection.TypeDouble:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid double '%s': %w", s, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("cannot parse a string into type '%s'", to)
	}
}

// decodeBytes reads a big-endian fixed-width value. Numeric targets require
// exactly their native width.
func decodeBytes(b []byte, to projection.Type) (any, error) {
	switch to {
	case projection.TypeString:
		return string(b), nil
	case projection.TypeBoolean:
		if err := checkWidth(b, 1, to); err != nil {
			return nil, err
		}
		return b[0] != 0, nil
	case projection.TypeInt:
		if err := checkWidth(b, 4, to); err != nil {
			return nil, err
		}
		return int32(binary.BigEndian.Uint32(b)), nil
	case projection.TypeLong:
		if err := checkWidth(b, 8, to); err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	case projection.TypeFloat:
		if err := checkWidth(b, 4, to); err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case projection.TypeDouble:
		if err := checkWidth(b, 8, to); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	default:
		return nil, fmt.Errorf("cannot decode bytes into type '%s'", to)
	}
}

func checkWidth(b []byte, width int, to projection.Type) error {
	if len(b) != width {
		return fmt.Errorf("expected %d bytes for %s, got %d", width, to, len(b))
	}
	return nil
}

func unexpectedValue(value any, declared projection.Type) error {
	return fmt.Errorf("value of type %T does not match declared type '%s'", value, declared)
}
