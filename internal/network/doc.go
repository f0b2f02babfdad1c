// Package network is the kernel backend: it reads and writes the links,
// addresses, routes and rules of one network namespace through netlink.
//
// # Overview
//
// [Kernel] implements the state source and sink used by the reconcile
// pipeline. Retrieval walks the link list once and fills the model from
// netlink attributes, sysfs (bond and bridge options, SR-IOV) and ethtool
// (permanent MAC, speed, duplex). Apply consumes a reconcile plan:
//
//   - deletes virtual links and sets removed NICs down
//   - creates virtual links after the link they are stacked on
//   - configures each interface, controllers before their ports
//   - replaces configured routes and rules by key
//   - rewrites resolv.conf when the plan carries a resolver config
//
// # Testability
//
// All system access goes through [Netlinker], [SystemController] and
// [CommandExecutor]. [MockNetlinker] and friends back the unit tests;
// [DryRunNetlinker] records the ip(8) equivalent of an apply without
// touching the kernel.
//
// # Change monitoring
//
// [Monitor] subscribes to link, address and route notifications and
// reports settled bursts so the daemon can re-check for drift between its
// periodic passes.
package network
