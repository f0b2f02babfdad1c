package model

// EthernetInterface is a physical NIC or one side of a veth pair.
type EthernetInterface struct {
	BaseInterface `yaml:",inline"`
	Ethernet      *EthernetConfig `yaml:"ethernet,omitempty"`
	Veth          *VethConfig     `yaml:"veth,omitempty"`
}

type EthernetConfig struct {
	AutoNeg *bool        `yaml:"auto-negotiation,omitempty"`
	Speed   *uint32      `yaml:"speed,omitempty"`
	Duplex  *string      `yaml:"duplex,omitempty"`
	SrIov   *SrIovConfig `yaml:"sr-iov,omitempty"`
}

type SrIovConfig struct {
	TotalVfs *uint32 `yaml:"total-vfs,omitempty"`
}

type VethConfig struct {
	Peer string `yaml:"peer"`
}

// BondMode uses the kernel bonding mode names.
type BondMode string

const (
	BondModeRoundRobin   BondMode = "balance-rr"
	BondModeActiveBackup BondMode = "active-backup"
	BondModeXOR          BondMode = "balance-xor"
	BondModeBroadcast    BondMode = "broadcast"
	BondModeLACP         BondMode = "802.3ad"
	BondModeTLB          BondMode = "balance-tlb"
	BondModeALB          BondMode = "balance-alb"
)

// ValidBondModes lists every accepted mode.
var ValidBondModes = []BondMode{
	BondModeRoundRobin, BondModeActiveBackup, BondModeXOR, BondModeBroadcast,
	BondModeLACP, BondModeTLB, BondModeALB,
}

type BondInterface struct {
	BaseInterface `yaml:",inline"`
	Bond          *BondConfig `yaml:"link-aggregation,omitempty"`
}

type BondConfig struct {
	Mode    *BondMode    `yaml:"mode,omitempty"`
	Options *BondOptions `yaml:"options,omitempty"`
	Port    *[]string    `yaml:"port,omitempty"`
}

type BondOptions struct {
	Miimon         *uint32 `yaml:"miimon,omitempty"`
	UpDelay        *uint32 `yaml:"updelay,omitempty"`
	DownDelay      *uint32 `yaml:"downdelay,omitempty"`
	Primary        *string `yaml:"primary,omitempty"`
	FailOverMac    *string `yaml:"fail_over_mac,omitempty"`
	XmitHashPolicy *string `yaml:"xmit_hash_policy,omitempty"`
	LacpRate       *string `yaml:"lacp_rate,omitempty"`
}

// Mode returns the configured mode or "".
func (b *BondInterface) Mode() BondMode {
	if b.Bond == nil || b.Bond.Mode == nil {
		return ""
	}
	return *b.Bond.Mode
}

type LinuxBridgeInterface struct {
	BaseInterface `yaml:",inline"`
	Bridge        *LinuxBridgeConfig `yaml:"bridge,omitempty"`
}

type LinuxBridgeConfig struct {
	Options *LinuxBridgeOptions      `yaml:"options,omitempty"`
	Port    *[]LinuxBridgePortConfig `yaml:"port,omitempty"`
}

// LinuxBridgeOptions timers use the kernel sysfs units: STP timers in
// seconds, multicast intervals in centiseconds.
type LinuxBridgeOptions struct {
	Stp                            *LinuxBridgeStpOptions `yaml:"stp,omitempty"`
	MacAgeingTime                  *uint32                `yaml:"mac-ageing-time,omitempty"`
	MulticastSnooping              *bool                  `yaml:"multicast-snooping,omitempty"`
	MulticastLastMemberInterval    *uint64                `yaml:"multicast-last-member-interval,omitempty"`
	MulticastMembershipInterval    *uint64                `yaml:"multicast-membership-interval,omitempty"`
	MulticastQuerierInterval       *uint64                `yaml:"multicast-querier-interval,omitempty"`
	MulticastQueryResponseInterval *uint64                `yaml:"multicast-query-response-interval,omitempty"`
	MulticastStartupQueryInterval  *uint64                `yaml:"multicast-startup-query-interval,omitempty"`
}

// BridgeRoundedFields are the option keys whose sysfs values the kernel
// stores in jiffies; a read back may differ from the written value by one.
var BridgeRoundedFields = []string{
	"multicast-last-member-interval",
	"multicast-membership-interval",
	"multicast-querier-interval",
	"multicast-query-response-interval",
	"multicast-startup-query-interval",
}

type LinuxBridgeStpOptions struct {
	Enabled      *bool   `yaml:"enabled,omitempty"`
	ForwardDelay *uint8  `yaml:"forward-delay,omitempty"`
	HelloTime    *uint8  `yaml:"hello-time,omitempty"`
	MaxAge       *uint8  `yaml:"max-age,omitempty"`
	Priority     *uint16 `yaml:"priority,omitempty"`
}

type LinuxBridgePortConfig struct {
	Name           string                `yaml:"name"`
	StpHairpinMode *bool                 `yaml:"stp-hairpin-mode,omitempty"`
	StpPathCost    *uint32               `yaml:"stp-path-cost,omitempty"`
	StpPriority    *uint16               `yaml:"stp-priority,omitempty"`
	Vlan           *BridgePortVlanConfig `yaml:"vlan,omitempty"`
}

type BridgePortVlanConfig struct {
	Mode *string `yaml:"mode,omitempty"`
	Tag  *uint16 `yaml:"tag,omitempty"`
}

// Linux bridge port VLAN modes. An access port carries Tag untagged as its
// PVID; a trunk port keeps VLAN 1 as PVID and carries Tag tagged.
const (
	BridgeVlanAccess = "access"
	BridgeVlanTrunk  = "trunk"
)

// LinuxMode returns the port mode, access when unset.
func (c *BridgePortVlanConfig) LinuxMode() string {
	if c == nil || c.Mode == nil {
		return BridgeVlanAccess
	}
	return *c.Mode
}

type VlanInterface struct {
	BaseInterface `yaml:",inline"`
	Vlan          *VlanConfig `yaml:"vlan,omitempty"`
}

type VlanConfig struct {
	BaseIface string  `yaml:"base-iface,omitempty"`
	ID        *uint16 `yaml:"id,omitempty"`
	Protocol  *string `yaml:"protocol,omitempty"`
}

type VxlanInterface struct {
	BaseInterface `yaml:",inline"`
	Vxlan         *VxlanConfig `yaml:"vxlan,omitempty"`
}

type VxlanConfig struct {
	BaseIface string  `yaml:"base-iface,omitempty"`
	ID        *uint32 `yaml:"id,omitempty"`
	Learning  *bool   `yaml:"learning,omitempty"`
	Local     *string `yaml:"local,omitempty"`
	Remote    *string `yaml:"remote,omitempty"`
	DstPort   *uint16 `yaml:"destination-port,omitempty"`
}

type OvsBridgeInterface struct {
	BaseInterface `yaml:",inline"`
	Bridge        *OvsBridgeConfig `yaml:"bridge,omitempty"`
}

type OvsBridgeConfig struct {
	Options *OvsBridgeOptions      `yaml:"options,omitempty"`
	Port    *[]OvsBridgePortConfig `yaml:"port,omitempty"`
}

type OvsBridgeOptions struct {
	Stp           *bool   `yaml:"stp,omitempty"`
	Rstp          *bool   `yaml:"rstp,omitempty"`
	McastSnooping *bool   `yaml:"mcast-snooping-enable,omitempty"`
	FailMode      *string `yaml:"fail-mode,omitempty"`
}

type OvsBridgePortConfig struct {
	Name string                `yaml:"name"`
	Vlan *BridgePortVlanConfig `yaml:"vlan,omitempty"`
}

// OvsInterface is an OVS internal, patch or DPDK port.
type OvsInterface struct {
	BaseInterface `yaml:",inline"`
	Patch         *OvsPatchConfig `yaml:"patch,omitempty"`
	Dpdk          *OvsDpdkConfig  `yaml:"dpdk,omitempty"`
}

type OvsPatchConfig struct {
	Peer string `yaml:"peer"`
}

type OvsDpdkConfig struct {
	Devargs string `yaml:"devargs"`
}

type VrfInterface struct {
	BaseInterface `yaml:",inline"`
	Vrf           *VrfConfig `yaml:"vrf,omitempty"`
}

type VrfConfig struct {
	Port    *[]string `yaml:"port,omitempty"`
	TableID *uint32   `yaml:"route-table-id,omitempty"`
}

type MacVlanInterface struct {
	BaseInterface `yaml:",inline"`
	MacVlan       *MacVlanConfig `yaml:"mac-vlan,omitempty"`
}

type MacVlanConfig struct {
	BaseIface   string  `yaml:"base-iface,omitempty"`
	Mode        *string `yaml:"mode,omitempty"`
	Promiscuous *bool   `yaml:"promiscuous,omitempty"`
}

// ValidMacVlanModes lists the kernel macvlan/macvtap modes.
var ValidMacVlanModes = []string{"vepa", "bridge", "private", "passthru", "source"}

type MacVtapInterface struct {
	BaseInterface `yaml:",inline"`
	MacVtap       *MacVlanConfig `yaml:"mac-vtap,omitempty"`
}

type DummyInterface struct {
	BaseInterface `yaml:",inline"`
}

type InfiniBandInterface struct {
	BaseInterface `yaml:",inline"`
	InfiniBand    *InfiniBandConfig `yaml:"infiniband,omitempty"`
}

type InfiniBandConfig struct {
	Mode      *string `yaml:"mode,omitempty"`
	BaseIface *string `yaml:"base-iface,omitempty"`
	Pkey      *string `yaml:"pkey,omitempty"`
}

// UnknownInterface keeps any kind-specific blocks it does not understand.
type UnknownInterface struct {
	BaseInterface `yaml:",inline"`
	Other         map[string]interface{} `yaml:",inline"`
}
