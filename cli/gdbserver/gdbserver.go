package gdbserver

// GDB remote serial protocol front-end: one TCP client at a time,
// driving a target.Target. Only the subset GDB needs for bare-metal
// debugging is implemented; everything else gets the canonical empty
// reply and GDB falls back gracefully.

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/adbg/cli/debug/target"
	"github.com/mongoose-os/adbg/common/ourutil"
)

const maxPacketSize = 0x4000

// How often the run loop polls for a halt and for a ^C from GDB.
const runPollInterval = 100 * time.Millisecond

type Server struct {
	tgt target.Target
}

func NewServer(tgt target.Target) *Server {
	return &Server{tgt: tgt}
}

// Serve listens on addr and serves GDB clients until ctx is cancelled
// or the target is lost.
func (s *Server) Serve(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "failed to listen on %s", addr)
	}
	defer l.Close()
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	ourutil.Reportf("Listening for GDB on %s", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			return errors.Trace(err)
		}
		ourutil.Reportf("GDB connected from %s", conn.RemoteAddr())
		err = s.HandleConn(ctx, conn)
		conn.Close()
		if err != nil && errors.Cause(err) != io.EOF {
			if errors.Cause(err) == errTargetLost {
				return errors.Trace(err)
			}
			glog.Errorf("session error: %v", err)
		}
		ourutil.Reportf("GDB disconnected")
	}
}

var errTargetLost = errors.New("target lost")

func checksum(p []byte) uint8 {
	var sum uint8
	for _, b := range p {
		sum += b
	}
	return sum
}

type session struct {
	srv  *Server
	conn net.Conn
	r    *bufio.Reader
}

// HandleConn runs one GDB session over an established connection.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn) error {
	sess := &session{srv: s, conn: conn, r: bufio.NewReader(conn)}
	for {
		pkt, err := sess.readPacket()
		if err != nil {
			return errors.Trace(err)
		}
		if err := sess.dispatch(ctx, pkt); err != nil {
			return errors.Trace(err)
		}
	}
}

// readPacket returns the payload of the next $...#xx packet. A stray
// 0x03 between packets is returned as "\x03" (interrupt request).
func (sess *session) readPacket() (string, error) {
	for {
		c, err := sess.r.ReadByte()
		if err != nil {
			return "", errors.Trace(err)
		}
		switch c {
		case '$':
		case 0x03:
			return "\x03", nil
		default:
			continue // '+', '-' or line noise
		}
		payload, err := sess.r.ReadString('#')
		if err != nil {
			return "", errors.Trace(err)
		}
		payload = payload[:len(payload)-1]
		var sumBuf [2]byte
		if _, err := io.ReadFull(sess.r, sumBuf[:]); err != nil {
			return "", errors.Trace(err)
		}
		want, err := strconv.ParseUint(string(sumBuf[:]), 16, 8)
		if err != nil {
			return "", errors.Annotatef(err, "bad checksum field %q", sumBuf)
		}
		if uint8(want) != checksum([]byte(payload)) {
			glog.Errorf("checksum mismatch on %q", payload)
			if _, err := sess.conn.Write([]byte("-")); err != nil {
				return "", errors.Trace(err)
			}
			continue
		}
		if _, err := sess.conn.Write([]byte("+")); err != nil {
			return "", errors.Trace(err)
		}
		glog.V(3).Infof("gdb => %q", payload)
		return payload, nil
	}
}

func (sess *session) sendPacket(payload string) error {
	glog.V(3).Infof("gdb <= %q", payload)
	_, err := fmt.Fprintf(sess.conn, "$%s#%02x", payload, checksum([]byte(payload)))
	return errors.Trace(err)
}

func stopReply(sig int) string {
	return fmt.Sprintf("S%02x", sig)
}

func (sess *session) dispatch(ctx context.Context, pkt string) error {
	if pkt == "\x03" {
		return errors.Trace(sess.interrupt(ctx))
	}
	if pkt == "" {
		return nil
	}
	tgt := sess.srv.tgt
	switch pkt[0] {
	case '?':
		return sess.sendPacket(stopReply(target.SIGTRAP))

	case 'q':
		return sess.query(ctx, pkt)

	case 'g':
		data := make([]byte, tgt.RegsSize())
		if err := tgt.RegsRead(ctx, data); err != nil {
			glog.Errorf("RegsRead: %v", err)
			return sess.sendPacket("E01")
		}
		return sess.sendPacket(hex.EncodeToString(data))

	case 'G':
		data, err := hex.DecodeString(pkt[1:])
		if err != nil || len(data) != tgt.RegsSize() {
			return sess.sendPacket("E01")
		}
		if err := tgt.RegsWrite(ctx, data); err != nil {
			glog.Errorf("RegsWrite: %v", err)
			return sess.sendPacket("E01")
		}
		return sess.sendPacket("OK")

	case 'm':
		addr, length, err := parseAddrLen(pkt[1:])
		if err != nil {
			return sess.sendPacket("E01")
		}
		data := make([]byte, length)
		if err := tgt.MemRead(ctx, data, addr); err != nil {
			glog.Errorf("MemRead(0x%x, %d): %v", addr, length, err)
			return sess.sendPacket("E01")
		}
		if tgt.CheckError(ctx) {
			return sess.sendPacket("E01")
		}
		return sess.sendPacket(hex.EncodeToString(data))

	case 'M':
		colon := strings.IndexByte(pkt, ':')
		if colon < 0 {
			return sess.sendPacket("E01")
		}
		addr, length, err := parseAddrLen(pkt[1:colon])
		if err != nil {
			return sess.sendPacket("E01")
		}
		data, err := hex.DecodeString(pkt[colon+1:])
		if err != nil || len(data) != int(length) {
			return sess.sendPacket("E01")
		}
		if err := tgt.MemWrite(ctx, addr, data); err != nil {
			glog.Errorf("MemWrite(0x%x, %d): %v", addr, length, err)
			return sess.sendPacket("E01")
		}
		if tgt.CheckError(ctx) {
			return sess.sendPacket("E01")
		}
		return sess.sendPacket("OK")

	case 'c', 's':
		if err := tgt.HaltResume(ctx, pkt[0] == 's'); err != nil {
			glog.Errorf("HaltResume: %v", err)
			return sess.sendPacket("E01")
		}
		return errors.Trace(sess.runLoop(ctx))

	case 'Z', 'z':
		return sess.breakpoint(ctx, pkt)

	case 'D':
		if err := tgt.Detach(ctx); err != nil {
			glog.Errorf("Detach: %v", err)
		}
		if err := sess.sendPacket("OK"); err != nil {
			return errors.Trace(err)
		}
		return io.EOF

	case 'k':
		if err := tgt.Detach(ctx); err != nil {
			glog.Errorf("Detach: %v", err)
		}
		return io.EOF

	case 'H':
		return sess.sendPacket("OK")
	}
	// Not supported.
	return sess.sendPacket("")
}

func (sess *session) query(ctx context.Context, pkt string) error {
	switch {
	case strings.HasPrefix(pkt, "qSupported"):
		return sess.sendPacket(fmt.Sprintf("PacketSize=%x;qXfer:features:read+", maxPacketSize))

	case strings.HasPrefix(pkt, "qXfer:features:read:target.xml:"):
		arg := pkt[strings.LastIndexByte(pkt, ':')+1:]
		offset, length, err := parseAddrLen(arg)
		if err != nil {
			return sess.sendPacket("E01")
		}
		tdesc := sess.srv.tgt.TDesc()
		if int(offset) >= len(tdesc) {
			return sess.sendPacket("l")
		}
		end := int(offset + length)
		if end >= len(tdesc) {
			return sess.sendPacket("l" + tdesc[offset:])
		}
		return sess.sendPacket("m" + tdesc[offset:end])

	case pkt == "qAttached":
		return sess.sendPacket("1")

	case pkt == "qC":
		return sess.sendPacket("")
	}
	return sess.sendPacket("")
}

func (sess *session) breakpoint(ctx context.Context, pkt string) error {
	// Only hardware breakpoints (type 1) are supported.
	parts := strings.Split(pkt[1:], ",")
	if len(parts) != 3 || parts[0] != "1" {
		return sess.sendPacket("")
	}
	addr, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return sess.sendPacket("E01")
	}
	kind, err := strconv.ParseUint(parts[2], 16, 8)
	if err != nil || (kind != 2 && kind != 4) {
		return sess.sendPacket("E01")
	}
	if pkt[0] == 'Z' {
		err = sess.srv.tgt.SetHWBreak(ctx, uint32(addr), uint8(kind))
	} else {
		err = sess.srv.tgt.ClearHWBreak(ctx, uint32(addr), uint8(kind))
	}
	if err != nil {
		glog.Errorf("%c1 0x%x: %v", pkt[0], addr, err)
		return sess.sendPacket("E01")
	}
	return sess.sendPacket("OK")
}

// interrupt handles a ^C arriving while halted (GDB can send one right
// after connecting).
func (sess *session) interrupt(ctx context.Context) error {
	if err := sess.srv.tgt.HaltRequest(ctx); err != nil {
		return errors.Trace(err)
	}
	sig, err := sess.srv.tgt.HaltWait(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if sig == 0 {
		sig = target.SIGINT
	}
	return sess.sendPacket(stopReply(sig))
}

// runLoop polls the resumed target, watching the connection for ^C.
func (sess *session) runLoop(ctx context.Context) error {
	tgt := sess.srv.tgt
	for {
		sig, err := tgt.HaltWait(ctx)
		if err != nil {
			return errors.Trace(err)
		}
		if sig == target.SIGLOST {
			sess.sendPacket(stopReply(sig))
			return errTargetLost
		}
		if sig != 0 {
			return sess.sendPacket(stopReply(sig))
		}
		// Briefly watch for an interrupt from GDB.
		sess.conn.SetReadDeadline(time.Now().Add(runPollInterval))
		c, err := sess.r.ReadByte()
		sess.conn.SetReadDeadline(time.Time{})
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			return errors.Trace(err)
		}
		if c == 0x03 {
			if err := tgt.HaltRequest(ctx); err != nil {
				return errors.Trace(err)
			}
		}
	}
}

func parseAddrLen(s string) (uint32, uint32, error) {
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return 0, 0, errors.Errorf("malformed addr,length %q", s)
	}
	addr, err := strconv.ParseUint(s[:comma], 16, 32)
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	length, err := strconv.ParseUint(s[comma+1:], 16, 32)
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	return uint32(addr), uint32(length), nil
}
