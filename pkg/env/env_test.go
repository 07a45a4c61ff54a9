package env

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Cleanup(func() {
		viper.Set("env", "")
		Env = Local
	})

	got, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Local, got)
	assert.True(t, IsLocal())

	viper.Set("env", " Production ")
	got, err = Load()
	require.NoError(t, err)
	assert.Equal(t, Production, got)
	assert.True(t, IsProduction())

	viper.Set("env", "staging")
	got, err = Load()
	assert.Error(t, err)
	assert.Equal(t, Production, got)

	viper.Set("env", "testing")
	_, err = Load()
	require.NoError(t, err)
	assert.True(t, IsTesting())
}
