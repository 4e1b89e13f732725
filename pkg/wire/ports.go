package wire

// UDP port numbers for the CB's fixed set of logical channels, per
// design §6: one physical CB exposes one socket per channel rather
// than multiplexing all traffic over the management port.
const (
	ManagementPort = 6000
	EVSEBSPPort    = 6001
	PLCPort        = 6002
	CAN0Port       = 6003
	Serial1Port    = 6004
	Serial2Port    = 6005
)
