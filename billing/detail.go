package billing

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// LINE DETAIL - Tagged union describing how a charge was computed
// =============================================================================

// LineDetail is the method-specific breakdown attached to a bill line.
// One concrete type exists per division method, plus the house-account
// fallback and rent. Serialized with a "method" tag so stored details
// round-trip without losing their type.
type LineDetail interface {
	DetailMethod() string
}

// FixedDetail: the full utility amount charged to every active tenant.
type FixedDetail struct{}

func (FixedDetail) DetailMethod() string { return string(MethodFixed) }

// EqualShareDetail: the amount divided evenly across the headcount.
type EqualShareDetail struct {
	Headcount int `json:"headcount"`
}

func (EqualShareDetail) DetailMethod() string { return string(MethodEqualShare) }

// ByDaysDetail: the amount prorated by present days.
type ByDaysDetail struct {
	DaysPresent     int `json:"days_present"`
	TotalPersonDays int `json:"total_person_days"`
}

func (ByDaysDetail) DetailMethod() string { return string(MethodByDays) }

// HouseAccountDetail: no tenant was eligible, so the full amount went to
// the house account. Method records which division method fell through.
type HouseAccountDetail struct {
	Method DivisionMethod `json:"-"`
	Reason string         `json:"reason"`
}

func (d HouseAccountDetail) DetailMethod() string { return string(d.Method) }

// RentDetail: a flat monthly rent charge, independent of presence.
type RentDetail struct{}

func (RentDetail) DetailMethod() string { return string(UtilityRent) }

// =============================================================================
// SERIALIZATION
// =============================================================================

// taggedDetail is the wire/storage form of every LineDetail variant.
type taggedDetail struct {
	Method          string `json:"method"`
	Headcount       int    `json:"headcount,omitempty"`
	DaysPresent     int    `json:"days_present,omitempty"`
	TotalPersonDays int    `json:"total_person_days,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// MarshalDetail encodes a detail with its method tag.
func MarshalDetail(d LineDetail) ([]byte, error) {
	tagged := taggedDetail{Method: d.DetailMethod()}
	switch v := d.(type) {
	case FixedDetail, RentDetail:
	case EqualShareDetail:
		tagged.Headcount = v.Headcount
	case ByDaysDetail:
		tagged.DaysPresent = v.DaysPresent
		tagged.TotalPersonDays = v.TotalPersonDays
	case HouseAccountDetail:
		tagged.Reason = v.Reason
	default:
		return nil, fmt.Errorf("unknown line detail type %T", d)
	}
	return json.Marshal(tagged)
}

// UnmarshalDetail decodes a detail back into its concrete type.
func UnmarshalDetail(data []byte) (LineDetail, error) {
	var tagged taggedDetail
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, err
	}
	if tagged.Reason != "" {
		return HouseAccountDetail{Method: DivisionMethod(tagged.Method), Reason: tagged.Reason}, nil
	}
	switch tagged.Method {
	case string(MethodFixed):
		return FixedDetail{}, nil
	case string(MethodEqualShare):
		return EqualShareDetail{Headcount: tagged.Headcount}, nil
	case string(MethodByDays):
		return ByDaysDetail{DaysPresent: tagged.DaysPresent, TotalPersonDays: tagged.TotalPersonDays}, nil
	case string(UtilityRent):
		return RentDetail{}, nil
	default:
		return nil, fmt.Errorf("unknown line detail method %q", tagged.Method)
	}
}

// MarshalJSON on BillLine routes Detail through the tagged encoding so
// API payloads and stored rows share one format.
func (l BillLine) MarshalJSON() ([]byte, error) {
	type alias BillLine
	detail, err := MarshalDetail(l.Detail)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Detail json.RawMessage `json:"detail"`
	}{alias: alias(l), Detail: detail})
}

func (l *BillLine) UnmarshalJSON(data []byte) error {
	type alias BillLine
	aux := struct {
		*alias
		Detail json.RawMessage `json:"detail"`
	}{alias: (*alias)(l)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Detail) == 0 {
		return nil
	}
	detail, err := UnmarshalDetail(aux.Detail)
	if err != nil {
		return err
	}
	l.Detail = detail
	return nil
}
