package cmd

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncq/internal/config"
	"syncq/internal/stats"
)

func newFlagCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	c.Flags().StringSliceP("header", "H", nil, "")
	c.Flags().StringArray("threshold", nil, "")
	require.NoError(t, c.Flags().Parse(args))
	return c
}

func TestMergeFlagMaps(t *testing.T) {
	v := viper.New()
	v.Set("headers", map[string]any{"X-Team": "load"})
	v.Set("thresholds", map[string]any{"websocket_rtt": []string{"max<1000"}})

	c := newFlagCmd(t,
		"-H", "Authorization: Bearer t:k",
		"--threshold", "websocket_rtt:p(95)<100",
		"--threshold", "connection_success: rate>0.9",
	)
	require.NoError(t, mergeFlagMaps(c, v))

	headers := v.GetStringMapString("headers")
	assert.Equal(t, "Bearer t:k", headers["authorization"])
	assert.Equal(t, "load", headers["x-team"])

	th := v.GetStringMapStringSlice("thresholds")
	assert.Equal(t, []string{"max<1000", "p(95)<100"}, th["websocket_rtt"])
	assert.Equal(t, []string{"rate>0.9"}, th["connection_success"])
}

func TestMergeFlagMapsRejectsMalformed(t *testing.T) {
	err := mergeFlagMaps(newFlagCmd(t, "-H", "no-colon"), viper.New())
	assert.True(t, errors.Is(err, config.ErrInvalid))

	err = mergeFlagMaps(newFlagCmd(t, "--threshold", "p(95)<100"), viper.New())
	assert.True(t, errors.Is(err, config.ErrInvalid))
}

func TestMetricsServer(t *testing.T) {
	reg := stats.NewRegistry()
	reg.Counter(stats.MetricMessagesSent).Add(42)

	srv := httptest.NewServer(newMetricsServer(":0", reg).Handler)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "syncq_"+stats.MetricMessagesSent+" 42")
}

func TestExitError(t *testing.T) {
	inner := errors.New("thresholds failed")
	err := error(&ExitError{Code: ExitThresholds, Err: inner})

	var exit *ExitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 99, exit.Code)
	assert.True(t, errors.Is(err, inner))
	assert.Equal(t, "exit status 1", (&ExitError{Code: 1}).Error())
}
