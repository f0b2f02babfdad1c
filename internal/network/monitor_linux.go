//go:build linux
// +build linux

package network

import (
	"context"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"grimm.is/netstate/internal/errors"
)

// Start subscribes to kernel notifications and calls onChange with the
// names of the links involved once the notifications settle. It returns
// once subscribed; the subscriptions end with ctx or Stop.
func (m *Monitor) Start(ctx context.Context, onChange func(ifaces []string)) error {
	ctx, cancel := context.WithCancel(ctx)

	var ns *netns.NsHandle
	if m.nsName != "" {
		h, err := netns.GetFromName(m.nsName)
		if err != nil {
			cancel()
			return errors.Attr(errors.Wrapf(err, errors.KindInvalidArgument, "open namespace %s", m.nsName), "netns", m.nsName)
		}
		ns = &h
		go func() {
			<-ctx.Done()
			h.Close()
		}()
	}
	onErr := func(err error) { m.log.Warn("netlink subscription error", "error", err) }

	links := make(chan netlink.LinkUpdate)
	if err := netlink.LinkSubscribeWithOptions(links, ctx.Done(), netlink.LinkSubscribeOptions{
		Namespace: ns, ErrorCallback: onErr,
	}); err != nil {
		cancel()
		return errors.Wrap(err, errors.KindPluginFailure, "subscribe to link updates")
	}
	addrs := make(chan netlink.AddrUpdate)
	if err := netlink.AddrSubscribeWithOptions(addrs, ctx.Done(), netlink.AddrSubscribeOptions{
		Namespace: ns, ErrorCallback: onErr,
	}); err != nil {
		cancel()
		return errors.Wrap(err, errors.KindPluginFailure, "subscribe to address updates")
	}
	routes := make(chan netlink.RouteUpdate)
	if err := netlink.RouteSubscribeWithOptions(routes, ctx.Done(), netlink.RouteSubscribeOptions{
		Namespace: ns, ErrorCallback: onErr,
	}); err != nil {
		// Route notifications are optional.
		m.log.Warn("could not subscribe to route updates", "error", err)
		routes = nil
	}

	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	go m.processUpdates(ctx, links, addrs, routes, onChange)
	m.log.Info("monitoring kernel network changes", "netns", m.nsName)
	return nil
}

func (m *Monitor) processUpdates(ctx context.Context, links chan netlink.LinkUpdate, addrs chan netlink.AddrUpdate, routes chan netlink.RouteUpdate, onChange func([]string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-links:
			if !ok {
				return
			}
			name := ""
			if u.Link != nil {
				name = u.Link.Attrs().Name
			}
			m.note(name, onChange)
		case u, ok := <-addrs:
			if !ok {
				return
			}
			m.note(m.nameOf(u.LinkIndex), onChange)
		case u, ok := <-routes:
			if !ok {
				routes = nil
				continue
			}
			m.note(m.nameOf(u.Route.LinkIndex), onChange)
		}
	}
}

func (m *Monitor) nameOf(index int) string {
	if index == 0 || m.nl == nil {
		return ""
	}
	link, err := m.nl.LinkByIndex(index)
	if err != nil {
		return ""
	}
	return link.Attrs().Name
}
