package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mensylisir/remotexec/pkg/common"
)

func TestValidate_Valid(t *testing.T) {
	cfg := &File{
		Commands: []CommandSpec{{Name: "ls", Args: []string{"ls"}}},
		Connections: []Connection{
			{Name: "t", Type: "ssh-tunnel", Host: "h", User: "u", Password: "p"},
			{Name: "f", Type: "ftp", Host: "h", RemoteDir: "/in"},
		},
	}
	SetDefaults(cfg)
	assert.NoError(t, Validate(cfg))
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		cfg  File
		want string
	}{
		{"bad level", File{Logging: LoggingSpec{Level: "loud"}}, "logging.level"},
		{"unnamed command", File{Commands: []CommandSpec{{Args: []string{"ls"}}}}, "commands[0].name"},
		{"duplicate command", File{Commands: []CommandSpec{{Name: "a", Args: []string{"x"}}, {Name: "a", Args: []string{"y"}}}}, "duplicate command"},
		{"no args", File{Commands: []CommandSpec{{Name: "a"}}}, "commands[0].args"},
		{"bad output type", File{Commands: []CommandSpec{{Name: "a", Args: []string{"x"}, OutputType: "all"}}}, "outputType"},
		{"no type", File{Connections: []Connection{{Name: "c", Host: "h"}}}, "type: cannot be empty"},
		{"unknown type", File{Connections: []Connection{{Name: "c", Type: "telnet", Host: "h"}}}, "unknown connection type"},
		{"no host", File{Connections: []Connection{{Name: "c", Type: "ftp", RemoteDir: "/in"}}}, "host"},
		{"no credentials", File{Connections: []Connection{{Name: "c", Type: "ssh-tunnel", Host: "h", User: "u"}}}, "password or privateKeyPath"},
		{"no user", File{Connections: []Connection{{Name: "c", Type: "scp", Host: "h", Password: "p", RemoteDir: "/d"}}}, "user"},
		{"scp without dir", File{Connections: []Connection{{Name: "c", Type: "scp", Host: "h", User: "u", Password: "p"}}}, "remoteDir"},
		{"bad protocol", File{Connections: []Connection{{Name: "c", Type: "scp", Host: "h", User: "u", Password: "p", RemoteDir: "/d", Protocol: "rsync"}}}, "protocol"},
		{"bad timeout", File{Connections: []Connection{{Name: "c", Type: "ftp", Host: "h", RemoteDir: "/d", Timeout: "soon"}}}, "timeout"},
		{"bad auth type", File{Connections: []Connection{{Name: "c", Type: "ssh-tunnel", Host: "h", User: "u", Password: "p", AuthType: "kerberos"}}}, "authType"},
		{"bad remote port", File{Connections: []Connection{{Name: "c", Type: "ssh-tunnel", Host: "h", User: "u", Password: "p", RemotePort: 70000}}}, "remotePort"},
		{"duplicate connection", File{Connections: []Connection{
			{Name: "c", Type: "ftp", Host: "h", RemoteDir: "/d"},
			{Name: "c", Type: "ftp", Host: "h", RemoteDir: "/d"},
		}}, "duplicate connection"},
		{"bastion without host", File{Connections: []Connection{{Name: "c", Type: "ssh-tunnel", Host: "h", User: "u", Password: "p", Bastion: &BastionSpec{Password: "p"}}}}, "bastion.host"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			SetDefaults(&cfg)
			err := Validate(&cfg)
			require.Error(t, err)
			assert.Equal(t, common.KindConfiguration, common.KindOf(err))
			assert.Contains(t, err.Error(), tc.want)

			var verrs *ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.False(t, verrs.IsEmpty())
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	assert.Equal(t, common.KindConfiguration, common.KindOf(Validate(nil)))
}

func TestValidationErrors(t *testing.T) {
	v := &ValidationErrors{}
	assert.True(t, v.IsEmpty())
	assert.Equal(t, "no validation errors", v.Error())
	v.Add("a: %d", 1)
	v.Add("b")
	assert.Equal(t, "a: 1; b", v.Error())
}
