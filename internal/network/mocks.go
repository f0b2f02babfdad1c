package network

import (
	"net"

	"github.com/stretchr/testify/mock"
	"github.com/vishvananda/netlink"
)

// MockNetlinker is a mock implementation of the Netlinker interface.
type MockNetlinker struct {
	mock.Mock
}

func (m *MockNetlinker) link(args mock.Arguments) (netlink.Link, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(netlink.Link), args.Error(1)
}

func (m *MockNetlinker) LinkByName(name string) (netlink.Link, error) {
	return m.link(m.Called(name))
}
func (m *MockNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	return m.link(m.Called(index))
}
func (m *MockNetlinker) LinkList() ([]netlink.Link, error) {
	args := m.Called()
	return args.Get(0).([]netlink.Link), args.Error(1)
}
func (m *MockNetlinker) LinkSetUp(link netlink.Link) error {
	return m.Called(link).Error(0)
}
func (m *MockNetlinker) LinkSetDown(link netlink.Link) error {
	return m.Called(link).Error(0)
}
func (m *MockNetlinker) LinkSetMTU(link netlink.Link, mtu int) error {
	return m.Called(link, mtu).Error(0)
}
func (m *MockNetlinker) LinkSetMaster(link, master netlink.Link) error {
	return m.Called(link, master).Error(0)
}
func (m *MockNetlinker) LinkSetNoMaster(link netlink.Link) error {
	return m.Called(link).Error(0)
}
func (m *MockNetlinker) LinkSetHardwareAddr(link netlink.Link, hwaddr net.HardwareAddr) error {
	return m.Called(link, hwaddr).Error(0)
}
func (m *MockNetlinker) LinkSetAlias(link netlink.Link, alias string) error {
	return m.Called(link, alias).Error(0)
}
func (m *MockNetlinker) LinkSetPromiscOn(link netlink.Link) error {
	return m.Called(link).Error(0)
}
func (m *MockNetlinker) LinkSetPromiscOff(link netlink.Link) error {
	return m.Called(link).Error(0)
}
func (m *MockNetlinker) LinkAdd(link netlink.Link) error {
	return m.Called(link).Error(0)
}
func (m *MockNetlinker) LinkDel(link netlink.Link) error {
	return m.Called(link).Error(0)
}
func (m *MockNetlinker) AddrList(link netlink.Link, family int) ([]netlink.Addr, error) {
	args := m.Called(link, family)
	return args.Get(0).([]netlink.Addr), args.Error(1)
}
func (m *MockNetlinker) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return m.Called(link, addr).Error(0)
}
func (m *MockNetlinker) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	return m.Called(link, addr).Error(0)
}
func (m *MockNetlinker) RouteListFiltered(family int, filter *netlink.Route, mask uint64) ([]netlink.Route, error) {
	args := m.Called(family, filter, mask)
	return args.Get(0).([]netlink.Route), args.Error(1)
}
func (m *MockNetlinker) RouteAdd(route *netlink.Route) error {
	return m.Called(route).Error(0)
}
func (m *MockNetlinker) RouteDel(route *netlink.Route) error {
	return m.Called(route).Error(0)
}
func (m *MockNetlinker) RuleList(family int) ([]netlink.Rule, error) {
	args := m.Called(family)
	return args.Get(0).([]netlink.Rule), args.Error(1)
}
func (m *MockNetlinker) RuleAdd(rule *netlink.Rule) error {
	return m.Called(rule).Error(0)
}
func (m *MockNetlinker) RuleDel(rule *netlink.Rule) error {
	return m.Called(rule).Error(0)
}
func (m *MockNetlinker) BridgeVlanList() (map[int32][]BridgeVlan, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int32][]BridgeVlan), args.Error(1)
}
func (m *MockNetlinker) BridgeVlanAdd(link netlink.Link, vid uint16, pvid, untagged bool) error {
	return m.Called(link, vid, pvid, untagged).Error(0)
}
func (m *MockNetlinker) BridgeVlanDel(link netlink.Link, vid uint16) error {
	return m.Called(link, vid).Error(0)
}

// MockSystemController is a mock implementation of the SystemController interface.
type MockSystemController struct {
	mock.Mock
}

func (m *MockSystemController) ReadSysctl(path string) (string, error) {
	args := m.Called(path)
	return args.String(0), args.Error(1)
}
func (m *MockSystemController) WriteSysctl(path, value string) error {
	args := m.Called(path, value)
	return args.Error(0)
}
func (m *MockSystemController) IsNotExist(err error) bool {
	args := m.Called(err)
	return args.Bool(0)
}

// MockCommandExecutor is a mock implementation of the CommandExecutor interface.
type MockCommandExecutor struct {
	mock.Mock
}

func (m *MockCommandExecutor) RunCommand(name string, arg ...string) (string, error) {
	argsSlice := []interface{}{name}
	for _, a := range arg {
		argsSlice = append(argsSlice, a)
	}
	args := m.Called(argsSlice...)
	return args.String(0), args.Error(1)
}
