package cmd

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagLoader_Precedence(t *testing.T) {
	c := &cobra.Command{Use: "test"}
	f := c.Flags()
	f.String("flagtest_name", "default", "")
	f.Duration("flagtest_interval", time.Second, "")
	f.StringSlice("flagtest_list", nil, "")
	require.NoError(t, viper.BindPFlags(f))

	viper.Set("flagtest_name", "from-config")
	viper.Set("flagtest_interval", "5s")
	t.Cleanup(func() {
		viper.Set("flagtest_name", nil)
		viper.Set("flagtest_interval", nil)
	})

	loader := NewFlagLoader(c)
	assert.Equal(t, "from-config", loader.String("flagtest_name"))
	assert.Equal(t, 5*time.Second, loader.Duration("flagtest_interval"))

	require.NoError(t, c.ParseFlags([]string{
		"--flagtest_name=from-flag",
		"--flagtest_list=creation,termination",
	}))
	assert.Equal(t, "from-flag", loader.String("flagtest_name"))
	assert.Equal(t, 5*time.Second, loader.Duration("flagtest_interval"))
	assert.Equal(t, []string{"creation", "termination"}, loader.StringSlice("flagtest_list"))
}
