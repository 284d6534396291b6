package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMarshalCanonical_KeyOrder verifies RFC 8785 key ordering is applied
// regardless of construction order.
func TestMarshalCanonical_KeyOrder(t *testing.T) {
	obj := Object{
		"zeta":  Int(1),
		"alpha": Int(2),
		"mid":   Int(3),
	}
	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":3,"zeta":1}`, string(out))
}

// TestMarshalCanonical_NoHTMLEscaping verifies < > & stay literal.
func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	out, err := MarshalCanonical(String("<a>&</a>"))
	require.NoError(t, err)
	assert.Equal(t, `"<a>&</a>"`, string(out))
}

// TestMarshalCanonical_RejectsFloatsAndNull verifies the forbidden types.
func TestMarshalCanonical_RejectsFloatsAndNull(t *testing.T) {
	_, err := MarshalCanonical(3.14)
	assert.Error(t, err)

	_, err = MarshalCanonical(Null{})
	assert.Error(t, err)

	_, err = MarshalCanonical(Object{"x": Null{}})
	assert.Error(t, err)
}

// TestMarshalCanonical_NFCNormalization verifies composed and decomposed
// forms of the same string marshal identically.
func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	composed := "é"         // é
	decomposed := "é"      // e + combining acute
	a, err := MarshalCanonical(String(composed))
	require.NoError(t, err)
	b, err := MarshalCanonical(String(decomposed))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

// TestMarshalCanonical_U2028 verifies U+2028/U+2029 are not escaped.
func TestMarshalCanonical_U2028(t *testing.T) {
	out, err := MarshalCanonical(String("a b c"))
	require.NoError(t, err)
	assert.Equal(t, "\"a b c\"", string(out))
}

// TestEqual_Deep verifies structural equality across value shapes.
func TestEqual_Deep(t *testing.T) {
	a := Object{"xs": Array{Int(1), String("two")}, "ok": Bool(true)}
	b := Object{"ok": Bool(true), "xs": Array{Int(1), String("two")}}
	assert.True(t, Equal(a, b))

	assert.False(t, Equal(a, Object{"xs": Array{Int(1)}, "ok": Bool(true)}))
	assert.False(t, Equal(Int(1), String("1")))
	assert.True(t, Equal(Null{}, Null{}))
}

// TestClone_NoAliasing verifies deep copies share nothing mutable.
func TestClone_NoAliasing(t *testing.T) {
	orig := Object{"xs": Array{Int(1)}, "nested": Object{"k": String("v")}}
	copied := Clone(orig).(Object)

	copied["nested"].(Object)["k"] = String("mutated")
	copied["xs"].(Array)[0] = Int(99)

	assert.Equal(t, String("v"), orig["nested"].(Object)["k"])
	assert.Equal(t, Int(1), orig["xs"].(Array)[0])
}

// TestUnmarshalValue_RejectsFloats verifies decode-side float rejection.
func TestUnmarshalValue_RejectsFloats(t *testing.T) {
	_, err := UnmarshalValue([]byte(`{"x": 1.5}`))
	assert.Error(t, err)

	v, err := UnmarshalValue([]byte(`{"x": 2, "y": [true, null, "s"]}`))
	require.NoError(t, err)
	assert.Equal(t, Object{"x": Int(2), "y": Array{Bool(true), Null{}, String("s")}}, v)
}

// TestFromGo_Boundary verifies the yaml/json boundary conversion.
func TestFromGo_Boundary(t *testing.T) {
	v, err := FromGo(map[string]any{"rps": 10, "tags": []any{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, Object{"rps": Int(10), "tags": Array{String("a"), String("b")}}, v)

	_, err = FromGo(map[string]any{"bad": 1.5})
	assert.Error(t, err)
}

// TestContentHash_DomainSeparation verifies the same payload hashes
// differently under different domains.
func TestContentHash_DomainSeparation(t *testing.T) {
	payload := Object{"k": String("v")}
	a, err := ContentHash(DomainBoard, payload)
	require.NoError(t, err)
	b, err := ContentHash(DomainSnapshot, payload)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
}
