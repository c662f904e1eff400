//go:build linux

package ipmigo

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux IPMI character device ioctl ABI (drivers/char/ipmi/ipmi_devintf.c).
const (
	ipmiIoctlMagic = 'i'

	ipmiSendCommandNr     = 13
	ipmiRecvMsgTruncNr    = 11
	ipmiGetMyAddressNr    = 18

	ipmiSystemInterfaceAddrType int32 = 0x0c
	ipmiBMCChannel              int16 = 0xf
	ipmiIPMBAddrType            int32 = 0x01
)

const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocRead  = 2
	iocWrite = 1
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func iorIoctl(nr uintptr, size uintptr) uintptr  { return ioc(iocRead, ipmiIoctlMagic, nr, size) }
func iowrIoctl(nr uintptr, size uintptr) uintptr { return ioc(iocRead|iocWrite, ipmiIoctlMagic, nr, size) }

type ipmiSysIfaceAddr struct {
	addrType int32
	channel  int16
	lun      uint8
}

func ipmiSysIfaceAddrBMC(lun uint8) ipmiSysIfaceAddr {
	return ipmiSysIfaceAddr{addrType: ipmiSystemInterfaceAddrType, channel: ipmiBMCChannel, lun: lun}
}

type ipmiIPMBAddr struct {
	addrType   int32
	channel    int16
	targetAddr uint8
	lun        uint8
}

func newIpmiIPMBAddr(channel int16, targetAddr, lun uint8) ipmiIPMBAddr {
	return ipmiIPMBAddr{addrType: ipmiIPMBAddrType, channel: channel, targetAddr: targetAddr, lun: lun}
}

type ipmiMessage struct {
	netFn   uint8
	cmd     uint8
	dataLen uint16
	data    *byte
}

type ipmiRequest struct {
	addr    *byte
	addrLen uint32
	msgID   int64
	message ipmiMessage
}

type ipmiRecv struct {
	recvType int32
	addr     *byte
	addrLen  uint32
	msgID    int64
	message  ipmiMessage
}

var (
	ipmictlSendCommand     = iorIoctl(ipmiSendCommandNr, unsafe.Sizeof(ipmiRequest{}))
	ipmictlReceiveMsgTrunc = iowrIoctl(ipmiRecvMsgTruncNr, unsafe.Sizeof(ipmiRecv{}))
	ipmictlGetMyAddressCmd = iorIoctl(ipmiGetMyAddressNr, unsafe.Sizeof(uint32(0)))
)

func ioctlPtr(fd uintptr, nr uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, nr, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// charDevSession implements the session interface (Ping/Open/Close/Execute)
// against a local /dev/ipmiN character device. Unlike the RMCP/RMCP+
// sessions it never leaves the host: there is no RMCP framing, no session
// header, and no authentication handshake, since the kernel driver already
// authenticated the caller at open(2) time.
type charDevSession struct {
	args   *Arguments
	file   *os.File
	myAddr uint8
	seq    int64
}

func newCharDevSession(args *Arguments) session {
	return &charDevSession{args: args}
}

func (s *charDevSession) Ping() error { return nil } // no presence scan on a local device

func (s *charDevSession) Open() error {
	if s.file != nil {
		return nil
	}

	f, err := os.OpenFile(s.args.Address, os.O_RDWR, 0)
	if err != nil {
		return newTransportError("failed to open character device", err)
	}
	s.file = f

	myAddr, err := s.loadMyAddress()
	if err != nil {
		s.args.Logger.Warn().Err(err).Msg("ipmigo: failed to get local IPMB address, defaulting to 0x20")
		myAddr = bmcSlaveAddress
	}
	s.myAddr = myAddr
	return nil
}

func (s *charDevSession) loadMyAddress() (uint8, error) {
	var addr uint32
	if err := ioctlPtr(s.file.Fd(), ipmictlGetMyAddressCmd, unsafe.Pointer(&addr)); err != nil {
		return 0, err
	}
	if addr > 0xff {
		return 0, fmt.Errorf("ipmi_get_my_address returned non-u8 address: %d", addr)
	}
	return uint8(addr), nil
}

func (s *charDevSession) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *charDevSession) Execute(cmd Command) error {
	if err := s.Open(); err != nil {
		return err
	}

	target := s.args.Target
	data, err := cmd.Marshal()
	if err != nil {
		return err
	}

	var addrBuf interface{}
	var addrPtr unsafe.Pointer
	var addrLen uint32
	if target.IsBridged() && target.RsAddr() != s.myAddr {
		a := newIpmiIPMBAddr(int16(target.Channel()), target.RsAddr(), target.LUN())
		addrBuf, addrPtr, addrLen = a, unsafe.Pointer(&a), uint32(unsafe.Sizeof(a))
	} else {
		a := ipmiSysIfaceAddrBMC(target.LUN())
		addrBuf, addrPtr, addrLen = a, unsafe.Pointer(&a), uint32(unsafe.Sizeof(a))
	}
	_ = addrBuf

	s.seq++
	var dataPtr *byte
	if len(data) > 0 {
		dataPtr = &data[0]
	}
	req := ipmiRequest{
		addr:    (*byte)(addrPtr),
		addrLen: addrLen,
		msgID:   s.seq,
		message: ipmiMessage{
			netFn:   byte(cmd.NetFnRsLUN()),
			cmd:     cmd.Code(),
			dataLen: uint16(len(data)),
			data:    dataPtr,
		},
	}

	if err := ioctlPtr(s.file.Fd(), ipmictlSendCommand, unsafe.Pointer(&req)); err != nil {
		return newTransportError("ipmi_send_request ioctl failed", err)
	}

	rsp, err := s.recv(s.args.Timeout)
	if err != nil {
		return err
	}

	wantNetFn := NetFn(byte(cmd.NetFnRsLUN().NetFn()) + 1)
	gotNetFn := NetFn(rsp.netFn >> 2)
	if gotNetFn != wantNetFn || rsp.cmd != cmd.Code() {
		return &UnexpectedResponseError{
			SentNetFn: cmd.NetFnRsLUN().NetFn(), SentCmd: cmd.Code(),
			RecvNetFn: gotNetFn, RecvCmd: rsp.cmd,
		}
	}
	if len(rsp.data) < 1 {
		return &MessageError{Message: "Character device response has no completion code"}
	}
	if cc := CompletionCode(rsp.data[0]); cc != CompletionOK {
		return &CommandError{CompletionCode: cc, Command: cmd}
	}
	_, err = cmd.Unmarshal(rsp.data[1:])
	return err
}

type charDevResponse struct {
	netFn uint8
	cmd   uint8
	data  []byte
}

func (s *charDevSession) recv(timeout time.Duration) (*charDevResponse, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 1024)
	bmcAddr := ipmiSysIfaceAddrBMC(0)

	for {
		recv := ipmiRecv{
			addr:    (*byte)(unsafe.Pointer(&bmcAddr)),
			addrLen: uint32(unsafe.Sizeof(bmcAddr)),
			message: ipmiMessage{
				dataLen: uint16(len(buf)),
				data:    &buf[0],
			},
		}

		err := ioctlPtr(s.file.Fd(), ipmictlReceiveMsgTrunc, unsafe.Pointer(&recv))
		if err == nil {
			return &charDevResponse{
				netFn: recv.message.netFn,
				cmd:   recv.message.cmd,
				data:  append([]byte(nil), buf[:recv.message.dataLen]...),
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, newTransportError("ipmi_recv_msg_trunc ioctl timed out", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
