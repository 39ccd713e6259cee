package serve

import (
	"testing"

	"github.com/ValentinKolb/dDoc/lib/util"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGroups(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    []common.ServerGroup
		wantErr bool
	}{
		{
			name:  "leader",
			value: "100=leader",
			want:  []common.ServerGroup{{GroupID: 100, Role: common.GroupRoleLeader}},
		},
		{
			name:  "leader and follower",
			value: "100=leader, 200=follower(leader-host:8080)",
			want: []common.ServerGroup{
				{GroupID: 100, Role: common.GroupRoleLeader},
				{GroupID: 200, Role: common.GroupRoleFollower, Leader: "leader-host:8080"},
			},
		},
		{
			name:  "follower of http endpoint",
			value: "1=follower(http://leader:8080)",
			want:  []common.ServerGroup{{GroupID: 1, Role: common.GroupRoleFollower, Leader: "http://leader:8080"}},
		},
		{name: "empty", value: "", wantErr: true},
		{name: "missing role", value: "100", wantErr: true},
		{name: "invalid id", value: "abc=leader", wantErr: true},
		{name: "invalid role", value: "100=dstore", wantErr: true},
		{name: "follower without leader", value: "100=follower()", wantErr: true},
		{name: "unterminated follower", value: "100=follower(host", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, err := ParseGroups(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, groups)
		})
	}
}

func TestParseClusterMembers(t *testing.T) {
	members, err := ParseClusterMembers("node-1=localhost:63001,node-2=localhost:63002")
	require.NoError(t, err)
	assert.Equal(t, map[uint64]string{
		util.HashString("node-1", 0): "localhost:63001",
		util.HashString("node-2", 0): "localhost:63002",
	}, members)

	_, err = ParseClusterMembers("")
	assert.Error(t, err)

	_, err = ParseClusterMembers("node-1")
	assert.Error(t, err)
}
