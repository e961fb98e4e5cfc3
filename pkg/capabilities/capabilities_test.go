package capabilities

import (
	"math/rand"
	"reflect"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/federate/pkg/errors"
)

// randomDeclaration sets every bool field of a Declaration from rng.
func randomDeclaration(rng *rand.Rand) *Declaration {
	decl := &Declaration{}
	v := reflect.ValueOf(decl).Elem()
	for i := 0; i < v.NumField(); i++ {
		if v.Field(i).Kind() == reflect.Bool {
			v.Field(i).SetBool(rng.Intn(2) == 1)
		}
	}
	return decl
}

func TestDeclarationHasFieldPerCapability(t *testing.T) {
	typ := reflect.TypeOf(Declaration{})
	bools := 0
	for i := 0; i < typ.NumField(); i++ {
		if typ.Field(i).Type.Kind() == reflect.Bool {
			bools++
		}
	}
	assert.Equal(t, len(All()), bools)
	assert.Len(t, All(), 60)

	for _, c := range All() {
		f, ok := typ.FieldByName(c.String())
		require.True(t, ok, "no declaration field for %s", c)
		assert.Equal(t, reflect.Bool, f.Type.Kind())
	}
}

func TestConvertCopiesEveryCapability(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		decl := randomDeclaration(rng)
		caps := Convert(decl, "conn", false)

		v := reflect.ValueOf(decl).Elem()
		for _, c := range All() {
			assert.Equal(t, v.FieldByName(c.String()).Bool(), caps.Supports(c), "capability %s", c)
		}
	}
}

func TestConvertFunctionsAreCaseInsensitive(t *testing.T) {
	decl := &Declaration{Functions: []string{"CONCAT", "Lower", "substring"}}
	caps := Convert(decl, "conn", false)

	for _, name := range []string{"concat", "CONCAT", "Concat", "LOWER", "SubString"} {
		assert.True(t, caps.SupportsFunction(name), name)
	}
	assert.False(t, caps.SupportsFunction("upper"))
	assert.Equal(t, []string{"concat", "lower", "substring"}, caps.Functions())
}

func TestConvertScalarProperties(t *testing.T) {
	decl := &Declaration{MaxInCriteriaSize: 1000, MaxFromGroups: 4}
	caps := Convert(decl, "orders-pg", true)

	assert.Equal(t, 1000, caps.MaxInCriteriaSize())
	assert.Equal(t, 4, caps.MaxFromGroups())
	assert.Equal(t, "orders-pg", caps.ConnectorID())
	assert.True(t, caps.SupportsXA())
}

func TestConvertNilFunctionList(t *testing.T) {
	caps := Convert(&Declaration{WhereLike: true}, "c", false)
	assert.Empty(t, caps.Functions())
	assert.False(t, caps.SupportsFunction("anything"))
	assert.True(t, caps.Supports(WhereLike))
}

func TestConvertCheckedRejectsNil(t *testing.T) {
	_, err := ConvertChecked(nil, "c", false)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestParseCapability(t *testing.T) {
	c, err := ParseCapability("wherelike")
	require.NoError(t, err)
	assert.Equal(t, WhereLike, c)

	_, err = ParseCapability("teleport")
	assert.Error(t, err)
	assert.Equal(t, "Capability(0)", Capability(0).String())
	assert.False(t, (*SourceCapabilities)(nil).Supports(WhereLike))
}

func TestCheckRequirements(t *testing.T) {
	caps := NewBuilder().
		Enable(WhereCompareEq, WhereIn, FromJoinInner).
		AddFunctions("upper").
		MaxInCriteriaSize(3).
		MaxFromGroups(2).
		ConnectorID("c1").
		Build()

	assert.NoError(t, Check(caps, Requirements{
		Capabilities:    []Capability{WhereIn},
		Functions:       []string{"UPPER"},
		InCriteriaSizes: []int{3},
		FromGroups:      2,
	}))

	err := Check(caps, Requirements{
		Capabilities:    []Capability{WhereLike, WhereIn},
		Functions:       []string{"lower"},
		InCriteriaSizes: []int{4},
		FromGroups:      3,
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))

	var structured *errors.Error
	require.True(t, errors.As(err, &structured))
	assert.Equal(t, []string{
		"WhereLike",
		"function lower",
		"IN list larger than MaxInCriteriaSize",
		"from groups beyond MaxFromGroups",
	}, structured.Details["unsupported"])
}

func TestSourceCapabilitiesJSON(t *testing.T) {
	caps := NewBuilder().Enable(RowLimit, OrderBy).AddFunctions("ABS").ConnectorID("x").Build()

	data, err := json.Marshal(caps)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"connector_id": "x",
		"xa": false,
		"max_in_criteria_size": 0,
		"max_from_groups": 0,
		"capabilities": ["OrderBy", "RowLimit"],
		"functions": ["abs"]
	}`, string(data))
}
