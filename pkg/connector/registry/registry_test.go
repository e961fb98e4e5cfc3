package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/federate/pkg/config"
	"github.com/ajitpratap0/federate/pkg/connector/core"
	"github.com/ajitpratap0/federate/pkg/errors"
	"github.com/ajitpratap0/federate/pkg/testutil"
)

func fakeFactory(cfg *config.SourceConfig) (core.Translator, error) {
	tr := testutil.NewFakeTranslator()
	tr.TranslatorName = cfg.Translator
	return tr, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(TranslatorInfo{Name: "zeta"}, fakeFactory))
	require.NoError(t, r.Register(TranslatorInfo{Name: "alpha", Polling: true}, fakeFactory))

	err := r.Register(TranslatorInfo{Name: "alpha"}, fakeFactory)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	assert.True(t, r.Has("zeta"))
	assert.False(t, r.Has("missing"))

	infos := r.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.True(t, infos[0].Polling)

	tr, err := r.Create(&config.SourceConfig{Name: "orders", Translator: "zeta"})
	require.NoError(t, err)
	assert.Equal(t, "zeta", tr.Name())

	_, err = r.Create(&config.SourceConfig{Name: "orders", Translator: "missing"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	r.Clear()
	assert.Empty(t, r.List())
}

func TestFactoryError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(TranslatorInfo{Name: "bad"}, func(*config.SourceConfig) (core.Translator, error) {
		return nil, errors.New(errors.ErrorTypeValidation, "missing dsn")
	}))

	_, err := r.Create(&config.SourceConfig{Name: "orders", Translator: "bad"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing dsn")
}
