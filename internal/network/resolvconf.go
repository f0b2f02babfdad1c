package network

import (
	"bufio"
	"bytes"
	"os"
	"strings"

	"github.com/miekg/dns"
	"github.com/spf13/afero"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/model"
)

const (
	DefaultResolvConf = "/etc/resolv.conf"
	DefaultHostname   = "/etc/hostname"

	resolvConfHeader = "# Generated by netstate"
)

// readResolvConf returns the resolver config. A missing file is an empty
// config.
func readResolvConf(fs afero.Fs, path string) (*model.DnsClientState, error) {
	data, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return &model.DnsClientState{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindPluginFailure, "read %s", path)
	}
	cfg, err := dns.ClientConfigFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindPluginFailure, "parse %s", path)
	}

	st := &model.DnsClientState{}
	if len(cfg.Servers) > 0 {
		servers := append([]string(nil), cfg.Servers...)
		st.Server = &servers
	}
	if len(cfg.Search) > 0 {
		search := append([]string(nil), cfg.Search...)
		st.Search = &search
	}
	// ClientConfig folds options into typed fields; keep them verbatim.
	var opts []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) > 1 && fields[0] == "options" {
			opts = append(opts, fields[1:]...)
		}
	}
	if len(opts) > 0 {
		st.Options = &opts
	}
	return st, nil
}

func renderResolvConf(st *model.DnsClientState) []byte {
	var b strings.Builder
	b.WriteString(resolvConfHeader + "\n")
	if search := st.Searches(); len(search) > 0 {
		b.WriteString("search " + strings.Join(search, " ") + "\n")
	}
	for _, s := range st.Servers() {
		b.WriteString("nameserver " + s + "\n")
	}
	if opts := st.OptionList(); len(opts) > 0 {
		b.WriteString("options " + strings.Join(opts, " ") + "\n")
	}
	return []byte(b.String())
}

func writeResolvConf(fs afero.Fs, path string, st *model.DnsClientState) error {
	if err := afero.WriteFile(fs, path, renderResolvConf(st), 0644); err != nil {
		return errors.Wrapf(err, errors.KindPluginFailure, "write %s", path)
	}
	return nil
}

// readStaticHostname returns the first line of the hostname file, empty
// when missing.
func readStaticHostname(fs afero.Fs, path string) (string, error) {
	data, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, errors.KindPluginFailure, "read %s", path)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line), nil
}
