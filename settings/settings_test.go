package settings

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSettings_Defaults(t *testing.T) {
	s := NewSettings()

	require.Equal(t, 8442, s.Sv2.BindPort)
	require.Equal(t, "0.0.0.0", s.Sv2.BindHost)
	require.EqualValues(t, 1000, s.Sv2.FeeDelta)
	require.Equal(t, 8, s.Sv2.MaxPeers)
	require.Equal(t, 20, s.Sv2.MaxPendingTemplates)
	require.Equal(t, 30*1_000_000_000, int(s.Sv2.FeeCheckInterval))
	require.NotEmpty(t, s.IPC.ConnectAddress)
}
