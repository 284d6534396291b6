package lattice

import (
	"fmt"
	"math"
	"slices"

	"github.com/loomworks/loom/internal/ir"
)

// Canonical names of the built-in lattices.
const (
	NamePause     = "Pause"
	NameFence     = "Fence"
	NameRateLimit = "RateLimit"
	NameBoolOr    = "BoolOr"
	NameMaxInt    = "MaxInt"
	NameSetUnion  = "SetUnion"
)

// Pause levels, totally ordered: running < soft < gated < isolated.
// Join is max, so the scope always reflects the most restrictive pause
// demanded by any source.
const (
	PauseRunning  = "running"
	PauseSoft     = "soft"
	PauseGated    = "gated"
	PauseIsolated = "isolated"
)

var pauseRank = map[string]int{
	PauseRunning:  0,
	PauseSoft:     1,
	PauseGated:    2,
	PauseIsolated: 3,
}

// ValidPauseLevel reports whether s names a pause level.
func ValidPauseLevel(s string) bool {
	_, ok := pauseRank[s]
	return ok
}

// PauseMax returns the more restrictive of two levels.
// Both arguments must be valid levels.
func PauseMax(a, b string) string {
	if pauseRank[a] >= pauseRank[b] {
		return a
	}
	return b
}

type pauseLattice struct{}

// Pause returns the pause-level lattice.
func Pause() Lattice { return pauseLattice{} }

func (pauseLattice) Name() string { return NamePause }

func (pauseLattice) Validate(v ir.Value) error {
	s, ok := v.(ir.String)
	if !ok {
		return fmt.Errorf("pause level must be a string, got %T", v)
	}
	if !ValidPauseLevel(string(s)) {
		return fmt.Errorf("invalid pause level %q", s)
	}
	return nil
}

func (pauseLattice) Leq(a, b ir.Value) (bool, error) {
	ra, rb, err := pauseRanks(a, b)
	if err != nil {
		return false, err
	}
	return ra <= rb, nil
}

func (pauseLattice) Join(a, b ir.Value) (ir.Value, error) {
	ra, rb, err := pauseRanks(a, b)
	if err != nil {
		return nil, err
	}
	if ra >= rb {
		return a, nil
	}
	return b, nil
}

func (pauseLattice) Bottom() ir.Value { return ir.String(PauseRunning) }
func (pauseLattice) Top() ir.Value    { return ir.String(PauseIsolated) }

func (pauseLattice) Samples() []ir.Value {
	return []ir.Value{
		ir.String(PauseRunning),
		ir.String(PauseSoft),
		ir.String(PauseGated),
		ir.String(PauseIsolated),
	}
}

func pauseRanks(a, b ir.Value) (int, int, error) {
	sa, ok := a.(ir.String)
	if !ok {
		return 0, 0, fmt.Errorf("pause level must be a string, got %T", a)
	}
	sb, ok := b.(ir.String)
	if !ok {
		return 0, 0, fmt.Errorf("pause level must be a string, got %T", b)
	}
	ra, ok := pauseRank[string(sa)]
	if !ok {
		return 0, 0, fmt.Errorf("invalid pause level %q", sa)
	}
	rb, ok := pauseRank[string(sb)]
	if !ok {
		return 0, 0, fmt.Errorf("invalid pause level %q", sb)
	}
	return ra, rb, nil
}

// Fence values are {"fence_ids": [sorted unique strings], "timestamp": int}.
// Order is subset plus timestamp; join is union plus max. A drain extends
// the fence; the drain is satisfied when every tracked id has signalled.
type fenceLattice struct{}

// Fence returns the drain-fence lattice.
func Fence() Lattice { return fenceLattice{} }

func (fenceLattice) Name() string { return NameFence }

// FenceValue builds a canonical fence value (ids deduplicated and sorted).
func FenceValue(timestamp int64, ids ...string) ir.Object {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	arr := make(ir.Array, len(sorted))
	for i, id := range sorted {
		arr[i] = ir.String(id)
	}
	return ir.Object{"fence_ids": arr, "timestamp": ir.Int(timestamp)}
}

func (fenceLattice) Validate(v ir.Value) error {
	_, _, err := fenceParts(v)
	return err
}

func (fenceLattice) Leq(a, b ir.Value) (bool, error) {
	idsA, tsA, err := fenceParts(a)
	if err != nil {
		return false, err
	}
	idsB, tsB, err := fenceParts(b)
	if err != nil {
		return false, err
	}
	if tsA > tsB {
		return false, nil
	}
	for _, id := range idsA {
		if !slices.Contains(idsB, id) {
			return false, nil
		}
	}
	return true, nil
}

func (fenceLattice) Join(a, b ir.Value) (ir.Value, error) {
	idsA, tsA, err := fenceParts(a)
	if err != nil {
		return nil, err
	}
	idsB, tsB, err := fenceParts(b)
	if err != nil {
		return nil, err
	}
	return FenceValue(max(tsA, tsB), append(idsA, idsB...)...), nil
}

func (fenceLattice) Bottom() ir.Value { return FenceValue(0) }

func (fenceLattice) Samples() []ir.Value {
	return []ir.Value{
		FenceValue(0),
		FenceValue(1, "f1"),
		FenceValue(2, "f2"),
		FenceValue(2, "f1", "f2"),
		FenceValue(5, "f3"),
	}
}

// FenceIDs extracts the tracked fence ids from a fence value.
func FenceIDs(v ir.Value) ([]string, error) {
	ids, _, err := fenceParts(v)
	return ids, err
}

func fenceParts(v ir.Value) ([]string, int64, error) {
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, 0, fmt.Errorf("fence must be an object, got %T", v)
	}
	rawIDs, ok := obj["fence_ids"].(ir.Array)
	if !ok {
		return nil, 0, fmt.Errorf("fence requires a fence_ids array")
	}
	ts, ok := obj["timestamp"].(ir.Int)
	if !ok {
		return nil, 0, fmt.Errorf("fence requires an integer timestamp")
	}
	if ts < 0 {
		return nil, 0, fmt.Errorf("fence timestamp must be non-negative")
	}
	ids := make([]string, len(rawIDs))
	for i, raw := range rawIDs {
		s, ok := raw.(ir.String)
		if !ok {
			return nil, 0, fmt.Errorf("fence_ids[%d] must be a string, got %T", i, raw)
		}
		ids[i] = string(s)
	}
	if !slices.IsSorted(ids) {
		return nil, 0, fmt.Errorf("fence_ids must be sorted")
	}
	return ids, int64(ts), nil
}

// RateLimit values are Null (bottom, unconstrained) or
// {"rps": int > 0, "burst"?: int > 0}. Join takes the stricter of two
// limits - min rps, min burst - so a limit can only ever tighten, never
// relax. Loosening is done by source-aware removal in the control plane,
// not by joining a larger value.
type rateLimitLattice struct{}

// RateLimit returns the rate-limit lattice.
func RateLimit() Lattice { return rateLimitLattice{} }

func (rateLimitLattice) Name() string { return NameRateLimit }

// RateLimitValue builds a rate limit value. burst <= 0 means no burst
// constraint.
func RateLimitValue(rps, burst int64) ir.Object {
	obj := ir.Object{"rps": ir.Int(rps)}
	if burst > 0 {
		obj["burst"] = ir.Int(burst)
	}
	return obj
}

func (rateLimitLattice) Validate(v ir.Value) error {
	_, _, _, err := rateLimitParts(v)
	return err
}

func (rateLimitLattice) Leq(a, b ir.Value) (bool, error) {
	nullA, rpsA, burstA, err := rateLimitParts(a)
	if err != nil {
		return false, err
	}
	nullB, rpsB, burstB, err := rateLimitParts(b)
	if err != nil {
		return false, err
	}
	// Bottom (unconstrained) precedes everything.
	if nullA {
		return true, nil
	}
	if nullB {
		return false, nil
	}
	// b is at least as strict as a: rps no larger, and every burst
	// constraint a carries is matched or tightened by b.
	if rpsB > rpsA {
		return false, nil
	}
	if burstA > 0 && (burstB <= 0 || burstB > burstA) {
		return false, nil
	}
	return true, nil
}

func (rateLimitLattice) Join(a, b ir.Value) (ir.Value, error) {
	nullA, rpsA, burstA, err := rateLimitParts(a)
	if err != nil {
		return nil, err
	}
	nullB, rpsB, burstB, err := rateLimitParts(b)
	if err != nil {
		return nil, err
	}
	if nullA && nullB {
		return ir.Null{}, nil
	}
	if nullA {
		return b, nil
	}
	if nullB {
		return a, nil
	}
	burst := int64(0)
	switch {
	case burstA > 0 && burstB > 0:
		burst = min(burstA, burstB)
	case burstA > 0:
		burst = burstA
	case burstB > 0:
		burst = burstB
	}
	return RateLimitValue(min(rpsA, rpsB), burst), nil
}

func (rateLimitLattice) Bottom() ir.Value { return ir.Null{} }

func (rateLimitLattice) Samples() []ir.Value {
	return []ir.Value{
		ir.Null{},
		RateLimitValue(5, 0),
		RateLimitValue(10, 0),
		RateLimitValue(10, 2),
		RateLimitValue(100, 50),
	}
}

func rateLimitParts(v ir.Value) (isNull bool, rps, burst int64, err error) {
	if _, ok := v.(ir.Null); ok {
		return true, 0, 0, nil
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return false, 0, 0, fmt.Errorf("rate limit must be null or an object, got %T", v)
	}
	rawRPS, ok := obj["rps"].(ir.Int)
	if !ok || rawRPS <= 0 {
		return false, 0, 0, fmt.Errorf("rate limit requires rps > 0")
	}
	if rawBurst, ok := obj["burst"]; ok {
		bi, ok := rawBurst.(ir.Int)
		if !ok || bi <= 0 {
			return false, 0, 0, fmt.Errorf("rate limit burst must be an int > 0")
		}
		burst = int64(bi)
	}
	return false, int64(rawRPS), burst, nil
}

// BoolOr is the two-point lattice: false < true, join is OR.
type boolOrLattice struct{}

// BoolOr returns the boolean-or lattice.
func BoolOr() Lattice { return boolOrLattice{} }

func (boolOrLattice) Name() string { return NameBoolOr }

func (boolOrLattice) Validate(v ir.Value) error {
	if _, ok := v.(ir.Bool); !ok {
		return fmt.Errorf("value must be a bool, got %T", v)
	}
	return nil
}

func (boolOrLattice) Leq(a, b ir.Value) (bool, error) {
	ba, bb, err := boolParts(a, b)
	if err != nil {
		return false, err
	}
	return !ba || bb, nil
}

func (boolOrLattice) Join(a, b ir.Value) (ir.Value, error) {
	ba, bb, err := boolParts(a, b)
	if err != nil {
		return nil, err
	}
	return ir.Bool(ba || bb), nil
}

func (boolOrLattice) Bottom() ir.Value { return ir.Bool(false) }
func (boolOrLattice) Top() ir.Value    { return ir.Bool(true) }

func (boolOrLattice) Samples() []ir.Value {
	return []ir.Value{ir.Bool(false), ir.Bool(true)}
}

func boolParts(a, b ir.Value) (bool, bool, error) {
	ba, ok := a.(ir.Bool)
	if !ok {
		return false, false, fmt.Errorf("value must be a bool, got %T", a)
	}
	bb, ok := b.(ir.Bool)
	if !ok {
		return false, false, fmt.Errorf("value must be a bool, got %T", b)
	}
	return bool(ba), bool(bb), nil
}

// MaxInt is the integer max lattice. Bottom is math.MinInt64.
type maxIntLattice struct{}

// MaxInt returns the integer-max lattice.
func MaxInt() Lattice { return maxIntLattice{} }

func (maxIntLattice) Name() string { return NameMaxInt }

func (maxIntLattice) Validate(v ir.Value) error {
	if _, ok := v.(ir.Int); !ok {
		return fmt.Errorf("value must be an int, got %T", v)
	}
	return nil
}

func (maxIntLattice) Leq(a, b ir.Value) (bool, error) {
	ia, ib, err := intParts(a, b)
	if err != nil {
		return false, err
	}
	return ia <= ib, nil
}

func (maxIntLattice) Join(a, b ir.Value) (ir.Value, error) {
	ia, ib, err := intParts(a, b)
	if err != nil {
		return nil, err
	}
	return ir.Int(max(ia, ib)), nil
}

func (maxIntLattice) Bottom() ir.Value { return ir.Int(math.MinInt64) }

func (maxIntLattice) Samples() []ir.Value {
	return []ir.Value{ir.Int(math.MinInt64), ir.Int(-7), ir.Int(0), ir.Int(3), ir.Int(99)}
}

func intParts(a, b ir.Value) (int64, int64, error) {
	ia, ok := a.(ir.Int)
	if !ok {
		return 0, 0, fmt.Errorf("value must be an int, got %T", a)
	}
	ib, ok := b.(ir.Int)
	if !ok {
		return 0, 0, fmt.Errorf("value must be an int, got %T", b)
	}
	return int64(ia), int64(ib), nil
}

// SetUnion is the grow-only string-set lattice. Values are sorted unique
// string arrays; join is union, order is subset.
type setUnionLattice struct{}

// SetUnion returns the grow-only set lattice.
func SetUnion() Lattice { return setUnionLattice{} }

func (setUnionLattice) Name() string { return NameSetUnion }

// SetValue builds a canonical set value (deduplicated, sorted).
func SetValue(members ...string) ir.Array {
	sorted := slices.Clone(members)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	arr := make(ir.Array, len(sorted))
	for i, m := range sorted {
		arr[i] = ir.String(m)
	}
	return arr
}

func (setUnionLattice) Validate(v ir.Value) error {
	_, err := setMembers(v)
	return err
}

func (setUnionLattice) Leq(a, b ir.Value) (bool, error) {
	ma, err := setMembers(a)
	if err != nil {
		return false, err
	}
	mb, err := setMembers(b)
	if err != nil {
		return false, err
	}
	for _, m := range ma {
		if !slices.Contains(mb, m) {
			return false, nil
		}
	}
	return true, nil
}

func (setUnionLattice) Join(a, b ir.Value) (ir.Value, error) {
	ma, err := setMembers(a)
	if err != nil {
		return nil, err
	}
	mb, err := setMembers(b)
	if err != nil {
		return nil, err
	}
	return SetValue(append(ma, mb...)...), nil
}

func (setUnionLattice) Bottom() ir.Value { return ir.Array{} }

func (setUnionLattice) Samples() []ir.Value {
	return []ir.Value{
		SetValue(),
		SetValue("a"),
		SetValue("b"),
		SetValue("a", "b"),
		SetValue("c"),
	}
}

func setMembers(v ir.Value) ([]string, error) {
	arr, ok := v.(ir.Array)
	if !ok {
		return nil, fmt.Errorf("set must be an array, got %T", v)
	}
	members := make([]string, len(arr))
	for i, raw := range arr {
		s, ok := raw.(ir.String)
		if !ok {
			return nil, fmt.Errorf("set[%d] must be a string, got %T", i, raw)
		}
		members[i] = string(s)
	}
	if !slices.IsSorted(members) {
		return nil, fmt.Errorf("set members must be sorted")
	}
	for i := 1; i < len(members); i++ {
		if members[i] == members[i-1] {
			return nil, fmt.Errorf("set members must be unique")
		}
	}
	return members, nil
}
