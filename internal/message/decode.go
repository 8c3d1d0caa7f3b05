package message

import (
	"codeberg.org/mutker/cgmbridge/internal/errors"
)

// Decode parses an encoded message back into its typed form.
func Decode(data []byte) (Message, error) {
	dict, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}

	kind, ok := dict.Int(KeyMsgType)
	if !ok {
		return nil, errors.New().WithData(ErrMalformed, "missing message type")
	}

	r := reader{dict: dict}

	switch Kind(kind) {
	case KindError:
		return Error{}, nil
	case KindData:
		d := Data{
			Recency:  r.int(KeyRecency),
			SGVCount: r.int(KeySGVCount),
			SGVs:     r.bytes(KeySGVs),
			LastSGV:  r.int(KeyLastSGV),
			Trend:    r.int(KeyTrend),
			Delta:    r.int(KeyDelta),
		}
		d.StatusText, _ = dict.String(KeyStatusText)
		return d, r.err
	case KindPreferences:
		p := Preferences{
			Mmol:            r.int(KeyMmol),
			TopOfGraph:      r.int(KeyTopOfGraph),
			TopOfRange:      r.int(KeyTopOfRange),
			BottomOfRange:   r.int(KeyBottomOfRange),
			BottomOfGraph:   r.int(KeyBottomOfGraph),
			HGridlines:      r.int(KeyHGridlines),
			BatteryAsNumber: r.int(KeyBatteryAsNumber),
			TimeAlign:       r.int(KeyTimeAlign),
			BatteryLoc:      r.int(KeyBatteryLoc),
			NumElements:     r.int(KeyNumElements),
		}
		raw := r.bytes(KeyElements)
		p.Elements = make([]int, len(raw))
		for i, b := range raw {
			p.Elements[i] = int(b)
		}
		return p, r.err
	default:
		return nil, errors.New().WithData(ErrMalformed, struct {
			Kind int
		}{kind})
	}
}

// reader records the first missing field.
type reader struct {
	dict Dictionary
	err  error
}

func (r *reader) int(key Key) int {
	v, ok := r.dict.Int(key)
	if !ok {
		r.missing(key)
	}

	return v
}

func (r *reader) bytes(key Key) []byte {
	v, ok := r.dict.Bytes(key)
	if !ok {
		r.missing(key)
	}

	return v
}

func (r *reader) missing(key Key) {
	if r.err == nil {
		r.err = errors.New().WithData(ErrMalformed, struct {
			MissingKey Key
		}{key})
	}
}
