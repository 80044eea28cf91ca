package ncp

// ZBOSS NCP serial protocol: LL/HL frame codec, CRC8/CRC16, command IDs.
// Reference: Wireshark ZBOSS NCP dissector (packet-zbncp.c/h).

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// --- LL (Low-Level) header constants ---

const (
	zbossSig0         = 0xDE
	zbossSig1         = 0xAD
	zbossLLHeaderSize = 7 // sig(2) + len(2) + type(1) + flags(1) + crc8(1)
	zbossBodyCRCSize  = 2 // CRC16 at start of body
	zbossMaxFrameSize = 512
)

// LL packet type (always 0x06 for ZBOSS NCP API HL; ACK vs DATA is in flags).
const zbossLLType uint8 = 0x06

// LL flags bitmask.
const (
	zbossFlagACK         = 0x01
	zbossFlagRetrans     = 0x02
	zbossFlagPktSeqMask  = 0x0C
	zbossFlagPktSeqShift = 2
	zbossFlagAckSeqMask  = 0x30
	zbossFlagAckSeqShift = 4
	zbossFlagFirstFrag   = 0x40
	zbossFlagLastFrag    = 0x80
)

// --- HL (High-Level) header constants ---

const (
	zbossHLVersion    uint8 = 0x00
	zbossHLRequest    uint8 = 0x00
	zbossHLResponse   uint8 = 0x01
	zbossHLIndication uint8 = 0x02
)

// --- Command IDs (call_id) ---

const (
	// NCP configuration
	zbossCmdGetModuleVersion uint16 = 0x0001
	zbossCmdNCPReset         uint16 = 0x0002
	zbossCmdGetZigbeeRole    uint16 = 0x0004
	zbossCmdSetZigbeeRole    uint16 = 0x0005
	zbossCmdSetChannelMask   uint16 = 0x0007
	zbossCmdGetChannel       uint16 = 0x0008
	zbossCmdGetPanID         uint16 = 0x0009
	zbossCmdGetLocalIEEE     uint16 = 0x000B
	zbossCmdSetRxOnWhenIdle  uint16 = 0x0013
	zbossCmdGetJoined        uint16 = 0x0014
	zbossCmdGetExtPanID      uint16 = 0x0023
	zbossCmdGetShortAddr     uint16 = 0x0025
	zbossCmdNCPResetInd      uint16 = 0x002B
	zbossCmdSetTCPolicy      uint16 = 0x0032
	zbossCmdSetMaxChildren   uint16 = 0x0034

	// AF
	zbossCmdAFSetSimpleDesc uint16 = 0x0101

	// ZDO
	zbossCmdZDODevAnnceInd  uint16 = 0x020C
	zbossCmdZDODevUpdateInd uint16 = 0x0215

	// APS
	zbossCmdAPSDEDataInd uint16 = 0x0306

	// NWK
	zbossCmdNwkDiscovery        uint16 = 0x0402
	zbossCmdNwkNlmeJoin         uint16 = 0x0403
	zbossCmdNwkStartedInd       uint16 = 0x0408
	zbossCmdNwkRejoinedInd      uint16 = 0x0409
	zbossCmdNwkRejoinFailedInd  uint16 = 0x040A
	zbossCmdNwkLeaveInd         uint16 = 0x040B
	zbossCmdNwkAddrUpdateInd    uint16 = 0x041C
	zbossCmdNwkStartWithoutForm uint16 = 0x041D
)

var zbossCmdNames = map[uint16]string{
	zbossCmdGetModuleVersion:    "GetModuleVersion",
	zbossCmdNCPReset:            "NCPReset",
	zbossCmdGetZigbeeRole:       "GetZigbeeRole",
	zbossCmdSetZigbeeRole:       "SetZigbeeRole",
	zbossCmdSetChannelMask:      "SetChannelMask",
	zbossCmdGetChannel:          "GetChannel",
	zbossCmdGetPanID:            "GetPanID",
	zbossCmdGetLocalIEEE:        "GetLocalIEEE",
	zbossCmdSetRxOnWhenIdle:     "SetRxOnWhenIdle",
	zbossCmdGetJoined:           "GetJoined",
	zbossCmdGetExtPanID:         "GetExtPanID",
	zbossCmdGetShortAddr:        "GetShortAddr",
	zbossCmdNCPResetInd:         "NCPResetInd",
	zbossCmdSetTCPolicy:         "SetTCPolicy",
	zbossCmdSetMaxChildren:      "SetMaxChildren",
	zbossCmdAFSetSimpleDesc:     "AFSetSimpleDesc",
	zbossCmdZDODevAnnceInd:      "ZDO_DevAnnce",
	zbossCmdZDODevUpdateInd:     "ZDO_DevUpdate",
	zbossCmdAPSDEDataInd:        "APSDE_DataInd",
	zbossCmdNwkDiscovery:        "NwkDiscovery",
	zbossCmdNwkNlmeJoin:         "NwkNlmeJoin",
	zbossCmdNwkStartedInd:       "NwkStartedInd",
	zbossCmdNwkRejoinedInd:      "NwkRejoinedInd",
	zbossCmdNwkRejoinFailedInd:  "NwkRejoinFailedInd",
	zbossCmdNwkLeaveInd:         "NwkLeaveInd",
	zbossCmdNwkAddrUpdateInd:    "NwkAddrUpdateInd",
	zbossCmdNwkStartWithoutForm: "NwkStartWithoutForm",
}

// zbossCmdName returns a human-readable name for a ZBOSS command ID.
func zbossCmdName(id uint16) string {
	if name, ok := zbossCmdNames[id]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", id)
}

// Response status categories.
const (
	zbossStatusGeneric uint8 = 0x00
	zbossStatusMAC     uint8 = 0x02
	zbossStatusNWK     uint8 = 0x03
	zbossStatusAPS     uint8 = 0x04
	zbossStatusZDO     uint8 = 0x05
	zbossStatusCBKE    uint8 = 0x06
)

// zbossMACNoBeacon is the MAC status for a scan that heard nothing.
const zbossMACNoBeacon uint8 = 0xEA

// zbossStatusName returns a human-readable status description.
func zbossStatusName(cat, code uint8) string {
	if cat == 0 && code == 0 {
		return "OK"
	}
	catName := "Generic"
	switch cat {
	case zbossStatusMAC:
		catName = "MAC"
	case zbossStatusNWK:
		catName = "NWK"
	case zbossStatusAPS:
		catName = "APS"
	case zbossStatusZDO:
		catName = "ZDO"
	case zbossStatusCBKE:
		catName = "CBKE"
	}
	return fmt.Sprintf("%s/%d(0x%02X)", catName, code, code)
}

// Zigbee roles (ZBOSS DeviceRole enum: ZC=0, ZR=1, ZED=2).
const (
	zbossRoleCoordinator uint8 = 0x00
	zbossRoleRouter      uint8 = 0x01
	zbossRoleEndDevice   uint8 = 0x02
)

// TC policy types for SET_TC_POLICY (0x0032).
const (
	zbossTCPolicyLinkKeysRequired uint16 = 0x0000
	zbossTCPolicyICRequired       uint16 = 0x0001
)

// NCP reset options.
const (
	zbossResetNoOption   uint8 = 0x00
	zbossResetEraseNVRAM uint8 = 0x01
	zbossResetFactory    uint8 = 0x02
)

// MAC capability bits sent with NLME-JOIN.
const (
	macCapAlternatePANCoord = 0x01
	macCapRouter            = 0x02
	macCapMainsPowered      = 0x04
	macCapRxOnWhenIdle      = 0x08
	macCapSecurity          = 0x40
	macCapAllocateAddress   = 0x80
)

// --- Frame types ---

// zbossLLHeader is the low-level header.
type zbossLLHeader struct {
	Length uint16
	Type   uint8
	Flags  uint8
}

// zbossHLHeader is the high-level header.
type zbossHLHeader struct {
	Version    uint8
	PacketType uint8
	CallID     uint16
	TSN        uint8 // only for Request/Response
	StatusCat  uint8 // only for Response
	StatusCode uint8 // only for Response
}

// zbossFrame is a complete parsed ZBOSS NCP frame (LL + HL + payload).
type zbossFrame struct {
	LL      zbossLLHeader
	HL      zbossHLHeader
	Payload []byte
}

// ok reports whether a response frame carries a success status.
func (f *zbossFrame) ok() bool {
	return f.HL.StatusCat == 0 && f.HL.StatusCode == 0
}

// --- Flag helpers ---

func zbossLLPktSeq(flags uint8) uint8 {
	return (flags >> zbossFlagPktSeqShift) & 0x03
}

func zbossLLAckSeq(flags uint8) uint8 {
	return (flags >> zbossFlagAckSeqShift) & 0x03
}

func zbossLLIsACK(flags uint8) bool {
	return flags&zbossFlagACK != 0
}

// --- CRC-8/KOOP (reflected poly=0xB2 i.e. normal 0x4D, init=0xFF, xorout=0xFF) ---
// --- CRC-16/KERMIT (reflected poly=0x8408, init=0x0000, xorout=0x0000) ---

var (
	crc8Table  [256]uint8
	crc16Table [256]uint16
)

func init() {
	for i := 0; i < 256; i++ {
		c8 := uint8(i)
		c16 := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if c8&1 != 0 {
				c8 = (c8 >> 1) ^ 0xB2
			} else {
				c8 >>= 1
			}
			if c16&1 != 0 {
				c16 = (c16 >> 1) ^ 0x8408
			} else {
				c16 >>= 1
			}
		}
		crc8Table[i] = c8
		crc16Table[i] = c16
	}
}

func zbossCRC8(data []byte) uint8 {
	crc := uint8(0xFF)
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc ^ 0xFF
}

func zbossCRC16(data []byte) uint16 {
	crc := uint16(0x0000)
	for _, b := range data {
		crc = (crc >> 8) ^ crc16Table[(crc^uint16(b))&0xFF]
	}
	return crc
}

// --- Encode ---

// zbossEncodeRequest builds a complete ZBOSS frame for an HL request.
// pktSeq is the 2-bit LL packet sequence number.
func zbossEncodeRequest(callID uint16, tsn uint8, pktSeq uint8, payload []byte) []byte {
	// HL header: version(1) + type(1) + callID(2) + tsn(1) = 5 bytes
	hlData := make([]byte, 5+len(payload))
	hlData[0] = zbossHLVersion
	hlData[1] = zbossHLRequest
	binary.LittleEndian.PutUint16(hlData[2:4], callID)
	hlData[4] = tsn
	copy(hlData[5:], payload)

	return zbossEncodeDataFrame(pktSeq, hlData)
}

// zbossEncodeResponse builds an HL response frame. The NCP sends these; the
// host only encodes them in tests.
func zbossEncodeResponse(callID uint16, tsn uint8, pktSeq uint8, statusCat, statusCode uint8, payload []byte) []byte {
	hlData := make([]byte, 7+len(payload))
	hlData[0] = zbossHLVersion
	hlData[1] = zbossHLResponse
	binary.LittleEndian.PutUint16(hlData[2:4], callID)
	hlData[4] = tsn
	hlData[5] = statusCat
	hlData[6] = statusCode
	copy(hlData[7:], payload)
	return zbossEncodeDataFrame(pktSeq, hlData)
}

// zbossEncodeIndication builds an HL indication frame.
func zbossEncodeIndication(callID uint16, pktSeq uint8, payload []byte) []byte {
	hlData := make([]byte, 4+len(payload))
	hlData[0] = zbossHLVersion
	hlData[1] = zbossHLIndication
	binary.LittleEndian.PutUint16(hlData[2:4], callID)
	copy(hlData[4:], payload)
	return zbossEncodeDataFrame(pktSeq, hlData)
}

// zbossEncodeDataFrame wraps HL data in an LL data frame.
func zbossEncodeDataFrame(pktSeq uint8, hlData []byte) []byte {
	bodyCRC := zbossCRC16(hlData)

	// body = CRC16(2) + hlData
	bodyLen := zbossBodyCRCSize + len(hlData)
	// Size includes: size_field(2) + type(1) + flags(1) + crc8(1) + body
	llSize := uint16(5 + bodyLen)

	flags := uint8(zbossFlagFirstFrag | zbossFlagLastFrag)
	flags |= (pktSeq << zbossFlagPktSeqShift) & zbossFlagPktSeqMask

	// Total frame = sig(2) + Size = 2 + llSize
	frame := make([]byte, 2+int(llSize))
	frame[0] = zbossSig0
	frame[1] = zbossSig1
	binary.LittleEndian.PutUint16(frame[2:4], llSize)
	frame[4] = zbossLLType
	frame[5] = flags
	frame[6] = zbossCRC8(frame[2:6]) // CRC8 over size+type+flags

	// Body
	binary.LittleEndian.PutUint16(frame[7:9], bodyCRC)
	copy(frame[9:], hlData)

	return frame
}

// zbossEncodeACK builds an LL ACK frame (7 bytes, no body).
func zbossEncodeACK(ackSeq uint8) []byte {
	frame := make([]byte, zbossLLHeaderSize)
	frame[0] = zbossSig0
	frame[1] = zbossSig1
	binary.LittleEndian.PutUint16(frame[2:4], 5) // size includes itself: size(2)+type(1)+flags(1)+crc8(1)
	frame[4] = zbossLLType
	frame[5] = zbossFlagACK | ((ackSeq << zbossFlagAckSeqShift) & zbossFlagAckSeqMask)
	frame[6] = zbossCRC8(frame[2:6])
	return frame
}

// --- Decode ---

// readZBOSSFrame reads one raw frame from r, skipping bytes until the
// 0xDEAD signature. The returned slice includes the signature.
func readZBOSSFrame(r *bufio.Reader) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != zbossSig0 {
			continue
		}
		next, err := r.Peek(1)
		if err != nil {
			return nil, err
		}
		if next[0] != zbossSig1 {
			continue
		}
		if _, err := r.ReadByte(); err != nil {
			return nil, err
		}

		var sizeBuf [2]byte
		if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
			return nil, err
		}
		size := binary.LittleEndian.Uint16(sizeBuf[:])
		if size < 5 || size > zbossMaxFrameSize {
			// Not a real header; resync on the next signature.
			continue
		}
		frame := make([]byte, 2+int(size))
		frame[0], frame[1] = zbossSig0, zbossSig1
		copy(frame[2:4], sizeBuf[:])
		if _, err := io.ReadFull(r, frame[4:]); err != nil {
			return nil, err
		}
		return frame, nil
	}
}

// zbossDecodeFrame parses a complete ZBOSS frame from raw bytes.
func zbossDecodeFrame(data []byte) (*zbossFrame, error) {
	if len(data) < zbossLLHeaderSize {
		return nil, fmt.Errorf("zboss: frame too short: %d bytes", len(data))
	}
	if data[0] != zbossSig0 || data[1] != zbossSig1 {
		return nil, fmt.Errorf("zboss: bad signature: 0x%02X%02X", data[0], data[1])
	}

	llSize := binary.LittleEndian.Uint16(data[2:4])
	llType := data[4]
	llFlags := data[5]
	llCRC := data[6]

	if got := zbossCRC8(data[2:6]); llCRC != got {
		return nil, fmt.Errorf("zboss: LL CRC8 mismatch: got 0x%02X, want 0x%02X", llCRC, got)
	}

	if llType != zbossLLType {
		return nil, fmt.Errorf("zboss: unexpected LL type: 0x%02X", llType)
	}

	// Total frame = sig(2) + Size; verify we have enough data.
	if int(llSize)+2 > len(data) {
		return nil, fmt.Errorf("zboss: frame truncated: need %d, have %d", llSize+2, len(data))
	}

	f := &zbossFrame{
		LL: zbossLLHeader{
			Length: llSize,
			Type:   llType,
			Flags:  llFlags,
		},
	}

	// ACK frames have no body.
	if zbossLLIsACK(llFlags) {
		return f, nil
	}

	body := data[zbossLLHeaderSize : 2+llSize]
	if len(body) < zbossBodyCRCSize {
		return nil, fmt.Errorf("zboss: body too short for CRC16: %d bytes", len(body))
	}

	bodyCRC := binary.LittleEndian.Uint16(body[0:2])
	hlData := body[2:]
	if got := zbossCRC16(hlData); bodyCRC != got {
		return nil, fmt.Errorf("zboss: body CRC16 mismatch: got 0x%04X, want 0x%04X", bodyCRC, got)
	}

	if len(hlData) < 4 {
		return nil, fmt.Errorf("zboss: HL data too short: %d bytes", len(hlData))
	}

	f.HL.Version = hlData[0]
	f.HL.PacketType = hlData[1]
	f.HL.CallID = binary.LittleEndian.Uint16(hlData[2:4])

	pos := 4
	switch f.HL.PacketType {
	case zbossHLRequest:
		if len(hlData) < 5 {
			return nil, fmt.Errorf("zboss: request HL too short for TSN")
		}
		f.HL.TSN = hlData[4]
		pos = 5
	case zbossHLResponse:
		if len(hlData) < 7 {
			return nil, fmt.Errorf("zboss: response HL too short")
		}
		f.HL.TSN = hlData[4]
		f.HL.StatusCat = hlData[5]
		f.HL.StatusCode = hlData[6]
		pos = 7
	case zbossHLIndication:
		pos = 4
	default:
		return nil, fmt.Errorf("zboss: unknown HL packet type: 0x%02X", f.HL.PacketType)
	}

	if pos < len(hlData) {
		f.Payload = make([]byte, len(hlData)-pos)
		copy(f.Payload, hlData[pos:])
	}

	return f, nil
}

// --- Payload builders ---

// buildSimpleDescPayload builds AF_SET_SIMPLE_DESC payload.
func buildSimpleDescPayload(ep uint8, profileID, deviceID uint16, devVersion uint8, inClusters, outClusters []uint16) []byte {
	buf := make([]byte, 8+len(inClusters)*2+len(outClusters)*2)
	buf[0] = ep
	binary.LittleEndian.PutUint16(buf[1:3], profileID)
	binary.LittleEndian.PutUint16(buf[3:5], deviceID)
	buf[5] = devVersion
	buf[6] = uint8(len(inClusters))
	buf[7] = uint8(len(outClusters))
	pos := 8
	for _, c := range inClusters {
		binary.LittleEndian.PutUint16(buf[pos:pos+2], c)
		pos += 2
	}
	for _, c := range outClusters {
		binary.LittleEndian.PutUint16(buf[pos:pos+2], c)
		pos += 2
	}
	return buf
}

// buildChannelMaskPayload builds SET_CHANNEL_MASK: page(1) + mask(4).
func buildChannelMaskPayload(mask uint32) []byte {
	buf := make([]byte, 5)
	buf[0] = 0x00 // channel page 0 (2.4 GHz)
	binary.LittleEndian.PutUint32(buf[1:], mask)
	return buf
}

// buildDiscoveryPayload builds NWK_DISCOVERY:
// channel_list_len(1) + [page(1) + mask(4)] + scan_duration(1).
func buildDiscoveryPayload(mask uint32, scanDuration uint8) []byte {
	buf := make([]byte, 7)
	buf[0] = 0x01
	buf[1] = 0x00
	binary.LittleEndian.PutUint32(buf[2:6], mask)
	buf[6] = scanDuration
	return buf
}

// buildJoinPayload builds NWK_NLME_JOIN for an association join as a
// router: ext_pan_id(8) + rejoin_network(1) + channel_list_len(1) +
// [page(1) + mask(4)] + scan_duration(1) + capability(1) + security(1).
func buildJoinPayload(extPanID [8]byte, channel uint8, scanDuration uint8) []byte {
	buf := make([]byte, 18)
	copy(buf[0:8], extPanID[:])
	buf[8] = 0x00 // association
	buf[9] = 0x01
	buf[10] = 0x00
	binary.LittleEndian.PutUint32(buf[11:15], 1<<uint(channel))
	buf[15] = scanDuration
	buf[16] = macCapRouter | macCapMainsPowered | macCapRxOnWhenIdle | macCapAllocateAddress
	buf[17] = 0x01
	return buf
}

// joinResult is the NWK_NLME_JOIN response:
// short_addr(2) + ext_pan_id(8) + page(1) + channel(1) + enh_beacon(1) + mac_iface(1).
type joinResult struct {
	ShortAddr uint16
	ExtPanID  [8]byte
	Channel   uint8
}

func parseJoinResponse(p []byte) (joinResult, error) {
	var r joinResult
	if len(p) < 12 {
		return r, fmt.Errorf("zboss: join response too short: %d bytes", len(p))
	}
	r.ShortAddr = binary.LittleEndian.Uint16(p[0:2])
	copy(r.ExtPanID[:], p[2:10])
	r.Channel = p[11]
	return r, nil
}

// NetworkScanResult holds one discovered network from an active scan.
type NetworkScanResult struct {
	ExtPanID     [8]byte `json:"ext_pan_id"`
	PanID        uint16  `json:"pan_id"`
	UpdateID     uint8   `json:"update_id"`
	Channel      uint8   `json:"channel"`
	StackProfile uint8   `json:"stack_profile"`
	PermitJoin   bool    `json:"permit_join"`
	RouterCap    bool    `json:"router_capacity"`
	EDCap        bool    `json:"end_device_capacity"`
	LQI          uint8   `json:"lqi"`
	RSSI         int8    `json:"rssi"`
}

// parseDiscoveryResponse decodes network_count(1) + descriptors[count*16].
// Each descriptor: ext_pan_id(8) + pan_id(2) + nwk_update_id(1) +
// channel_page(1) + channel(1) + flags(1) + lqi(1) + rssi(1).
func parseDiscoveryResponse(p []byte) []NetworkScanResult {
	if len(p) < 1 {
		return nil
	}
	count := int(p[0])
	const descSize = 16
	results := make([]NetworkScanResult, 0, count)
	for i := 0; i < count; i++ {
		off := 1 + i*descSize
		if off+descSize > len(p) {
			break
		}
		d := p[off : off+descSize]
		r := NetworkScanResult{
			PanID:    binary.LittleEndian.Uint16(d[8:10]),
			UpdateID: d[10],
			Channel:  d[12],
			LQI:      d[14],
			RSSI:     int8(d[15]),
		}
		copy(r.ExtPanID[:], d[0:8])
		flags := d[13]
		r.PermitJoin = flags&0x01 != 0
		r.RouterCap = flags&0x02 != 0
		r.EDCap = flags&0x04 != 0
		r.StackProfile = (flags >> 4) & 0x0F
		results = append(results, r)
	}
	return results
}

// pickNetwork chooses the joinable network with router capacity and the
// best link quality on a channel allowed by mask.
func pickNetwork(results []NetworkScanResult, mask uint32) (NetworkScanResult, bool) {
	var best NetworkScanResult
	found := false
	for _, r := range results {
		if !r.PermitJoin || !r.RouterCap {
			continue
		}
		if r.Channel > 31 || mask&(1<<uint(r.Channel)) == 0 {
			continue
		}
		if !found || r.LQI > best.LQI {
			best = r
			found = true
		}
	}
	return best, found
}
