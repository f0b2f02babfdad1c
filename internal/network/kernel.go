package network

import (
	"os"

	"github.com/spf13/afero"
	"github.com/vishvananda/netlink"

	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/logging"
)

// Kernel is the netlink backend. It implements netstate.StateSource and
// netstate.StateSink for the links, addresses, routes and rules of one
// network namespace, plus resolv.conf.
type Kernel struct {
	nl   Netlinker
	sys  SystemController
	fs   afero.Fs
	info LinkInfoReader
	dhcp DHCPLauncher

	resolvConf   string
	hostnameFile string
	hostname     func() (string, error)

	log *logging.Logger
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithFs replaces the filesystem used for resolv.conf and /etc/hostname.
func WithFs(fs afero.Fs) Option {
	return func(k *Kernel) { k.fs = fs }
}

// WithResolvConf overrides the resolver file path.
func WithResolvConf(path string) Option {
	return func(k *Kernel) { k.resolvConf = path }
}

// WithHostnameFile overrides the static hostname file path.
func WithHostnameFile(path string) Option {
	return func(k *Kernel) { k.hostnameFile = path }
}

// WithHostnameFunc overrides how the running hostname is read.
func WithHostnameFunc(f func() (string, error)) Option {
	return func(k *Kernel) { k.hostname = f }
}

// WithLinkInfo adds permanent MAC and link settings to retrieved ethernet
// interfaces.
func WithLinkInfo(r LinkInfoReader) Option {
	return func(k *Kernel) { k.info = r }
}

// WithDHCP starts and stops lease clients when dhcp is toggled.
func WithDHCP(l DHCPLauncher) Option {
	return func(k *Kernel) { k.dhcp = l }
}

// NewKernelWithDeps creates a kernel backend with injected dependencies.
func NewKernelWithDeps(nl Netlinker, sys SystemController, opts ...Option) *Kernel {
	k := &Kernel{
		nl:           nl,
		sys:          sys,
		fs:           afero.NewOsFs(),
		resolvConf:   DefaultResolvConf,
		hostnameFile: DefaultHostname,
		hostname:     os.Hostname,
		log:          logging.WithComponent("kernel"),
	}
	if k.sys == nil {
		k.sys = DefaultSystemController
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

func isLinkNotFound(err error) bool {
	var nf netlink.LinkNotFoundError
	return errors.As(err, &nf)
}

func pluginErr(err error, iface, format string, args ...any) error {
	e := errors.Wrapf(err, errors.KindPluginFailure, format, args...)
	if iface != "" {
		e = errors.Attr(e, "interface", iface)
	}
	return e
}
