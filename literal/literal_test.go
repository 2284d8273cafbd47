package literal

import (
	"testing"

	"github.com/pushkernel/remoteadapter"

	"github.com/stretchr/testify/require"
)

func TestProvider_Defaults(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(map[string]string{}, ""))
	require.Equal(t, DefaultDistinctSnapshotLength, p.GetDistinctSnapshotLength("item"))
	require.Zero(t, p.GetAllowedMaxBandwidth("user"))
	require.Zero(t, p.GetAllowedMaxItemFrequency("user", "item"))
	require.Zero(t, p.GetAllowedBufferSize("user", "item"))
	require.NoError(t, p.NotifyUser("anyone", "", nil))
	require.NoError(t, p.NotifyUser("", "", nil))
	require.True(t, p.IsModeAllowed("user", "item", remoteadapter.ModeCommand))
}

func TestProvider_Init(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(map[string]string{
		ParamMaxBandwidth:           "40.5",
		ParamMaxFrequency:           "3",
		ParamBufferSize:             "30",
		ParamDistinctSnapshotLength: "5",
	}, "adapters.conf"))
	require.Equal(t, 40.5, p.GetAllowedMaxBandwidth("user"))
	require.Equal(t, 3.0, p.GetAllowedMaxItemFrequency("user", "item"))
	require.Equal(t, 30, p.GetAllowedBufferSize("user", "item"))
	require.Equal(t, 5, p.GetDistinctSnapshotLength("item"))
}

func TestProvider_InitError(t *testing.T) {
	testCases := []string{ParamMaxBandwidth, ParamMaxFrequency, ParamBufferSize, ParamDistinctSnapshotLength}
	for _, param := range testCases {
		t.Run(param, func(t *testing.T) {
			err := New().Init(map[string]string{param: "lots"}, "")
			var adapterErr *remoteadapter.Error
			require.ErrorAs(t, err, &adapterErr)
			require.Equal(t, remoteadapter.KindMetadataProvider, adapterErr.Kind)
			require.Contains(t, adapterErr.Message, param)
		})
	}
}

func TestProvider_AllowedUsers(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(map[string]string{ParamAllowedUsers: "alice,,bob"}, ""))
	require.NoError(t, p.NotifyUser("alice", "", nil))
	require.NoError(t, p.NotifyUser("bob", "", nil))

	err := p.NotifyUser("eve", "", nil)
	var adapterErr *remoteadapter.Error
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, remoteadapter.KindAccess, adapterErr.Kind)
	require.Equal(t, "Unauthorized user", adapterErr.Message)

	require.Error(t, p.NotifyUser("", "", nil))
}

func TestProvider_ItemsAndSchema(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(nil, ""))

	items, err := p.GetItems("user", "S1", "item1  item2 item3")
	require.NoError(t, err)
	require.Equal(t, []string{"item1", "item2", "item3"}, items)

	items, err = p.GetItems("user", "S1", "single")
	require.NoError(t, err)
	require.Equal(t, []string{"single"}, items)

	fields, err := p.GetSchema("user", "S1", "item1", "last_price time")
	require.NoError(t, err)
	require.Equal(t, []string{"last_price", "time"}, fields)

	fields, err = p.GetSchema("user", "S1", "item1", "")
	require.NoError(t, err)
	require.Equal(t, []string{""}, fields)
}
