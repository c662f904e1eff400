package ipmigo

// Default slave addresses used on the IPMB (Section 5.4, Table 5-1).
const (
	bmcSlaveAddress uint8 = 0x20 // BMC's own slave address on its IPMB
	remoteSWID      uint8 = 0x81 // Software ID of this client, "Remote Console Software"
)

// Target identifies where a Command should be delivered. Most commands go to
// the BMC itself (the only target reachable over RMCP/RMCP+); the character
// device transport additionally allows addressing another device living on
// the same multi-drop IPMB, in which case the request is bridged through the
// BMC's IPMB channel instead of answered directly.
type Target struct {
	addr    uint8
	channel uint8
	lun     uint8
	bridged bool
}

// BMCTarget addresses the BMC itself on logical unit lun. This is the only
// valid target over RMCP/RMCP+ and the default for the character device
// transport.
func BMCTarget(lun uint8) Target {
	return Target{addr: bmcSlaveAddress, lun: lun}
}

// BMCOrIPMBTarget addresses a device at addr on the given IPMB channel. When
// addr is the BMC's own slave address this collapses to BMCTarget, since no
// bridging is required to reach the BMC.
func BMCOrIPMBTarget(addr, channel, lun uint8) Target {
	if addr == bmcSlaveAddress {
		return BMCTarget(lun)
	}
	return Target{addr: addr, channel: channel, lun: lun, bridged: true}
}

func (t Target) RsAddr() uint8   { return t.addr }
func (t Target) RqAddr() uint8   { return remoteSWID }
func (t Target) LUN() uint8      { return t.lun }
func (t Target) Channel() uint8  { return t.channel }
func (t Target) IsBridged() bool { return t.bridged }

func defaultTarget() Target { return BMCTarget(0) }
