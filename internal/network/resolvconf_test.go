package network

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/netstate/internal/model"
)

func TestReadResolvConf(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := `# comment
search corp.example.com example.com
nameserver 192.0.2.53
nameserver 2001:db8::53
options rotate timeout:2
`
	require.NoError(t, afero.WriteFile(fs, "/etc/resolv.conf", []byte(content), 0644))

	st, err := readResolvConf(fs, "/etc/resolv.conf")
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.53", "2001:db8::53"}, st.Servers())
	assert.Equal(t, []string{"corp.example.com", "example.com"}, st.Searches())
	assert.Equal(t, []string{"rotate", "timeout:2"}, st.OptionList())
}

func TestReadResolvConf_Missing(t *testing.T) {
	st, err := readResolvConf(afero.NewMemMapFs(), "/etc/resolv.conf")
	require.NoError(t, err)
	assert.Empty(t, st.Servers())
	assert.Empty(t, st.Searches())
}

func TestWriteResolvConf_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	want := &model.DnsClientState{
		Server:  &[]string{"192.0.2.53", "192.0.2.54"},
		Search:  &[]string{"example.com"},
		Options: &[]string{"edns0"},
	}
	require.NoError(t, writeResolvConf(fs, "/etc/resolv.conf", want))

	data, err := afero.ReadFile(fs, "/etc/resolv.conf")
	require.NoError(t, err)
	assert.Equal(t, "# Generated by netstate\nsearch example.com\nnameserver 192.0.2.53\nnameserver 192.0.2.54\noptions edns0\n", string(data))

	got, err := readResolvConf(fs, "/etc/resolv.conf")
	require.NoError(t, err)
	assert.Equal(t, want.Servers(), got.Servers())
	assert.Equal(t, want.Searches(), got.Searches())
	assert.Equal(t, want.OptionList(), got.OptionList())
}

func TestWriteResolvConf_Purge(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, writeResolvConf(fs, "/etc/resolv.conf", &model.DnsClientState{}))
	data, err := afero.ReadFile(fs, "/etc/resolv.conf")
	require.NoError(t, err)
	assert.Equal(t, resolvConfHeader+"\n", string(data))
}

func TestReadStaticHostname(t *testing.T) {
	fs := afero.NewMemMapFs()
	name, err := readStaticHostname(fs, "/etc/hostname")
	require.NoError(t, err)
	assert.Empty(t, name)

	require.NoError(t, afero.WriteFile(fs, "/etc/hostname", []byte("  edge-7 \nignored\n"), 0644))
	name, err = readStaticHostname(fs, "/etc/hostname")
	require.NoError(t, err)
	assert.Equal(t, "edge-7", name)
}
