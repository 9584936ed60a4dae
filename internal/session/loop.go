package session

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/sercd-go/sercd/internal/config"
	"github.com/sercd-go/sercd/internal/cpc"
	"github.com/sercd-go/sercd/internal/serialport"
	"github.com/sercd-go/sercd/internal/telnet"
)

// device is the capability set the event loop itself needs from an open
// serial port: cpc.Adapter for CPC dispatch, plus the raw fd and byte I/O
// poll() and drain drive directly. *serialport.Adapter satisfies this; a
// fake backed by a pipe fd satisfies it in tests without touching a real
// tty.
type device interface {
	cpc.Adapter
	Fd() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// state is the §4.7 session lifecycle.
type state int

const (
	stateIdle state = iota
	stateConnected
	stateOpened
	stateDrop
)

// stagingSize bounds how many bytes a single drain step reads in one go,
// independent of the ring buffer's total capacity.
const stagingSize = 512

// Loop owns the listening socket (standalone mode) or inherited
// stdin/stdout (inetd mode), the at-most-one active session, and the
// cooperative event loop that drives it (§4.6).
type Loop struct {
	cfg *config.Config
	log *zap.SugaredLogger

	inetd     bool
	listenFd  int // -1 if none (inetd mode, or not yet created)
	clientIn  int // -1 if no client
	clientOut int

	device device
	state  state
	sess   *session

	lastModemPoll time.Time
	shutdown      atomic.Bool

	// openDevice is swapped out in tests; defaults to serialport.Open2217.
	openDevice func(devicePath, lockPath string, log *zap.SugaredLogger) (device, error)
}

// New constructs a Loop from resolved configuration. It does not open the
// listening socket or the device; call Run to do that.
func New(cfg *config.Config, log *zap.SugaredLogger) *Loop {
	l := &Loop{
		cfg:       cfg,
		log:       log,
		inetd:     cfg.Inetd,
		listenFd:  -1,
		clientIn:  -1,
		clientOut: -1,
		state:     stateIdle,
	}
	l.openDevice = func(devicePath, lockPath string, log *zap.SugaredLogger) (device, error) {
		return serialport.Open2217(devicePath, lockPath, log)
	}
	return l
}

func (l *Loop) logf(format string, args ...any) {
	if l.log != nil {
		l.log.Infof(format, args...)
	}
}

func (l *Loop) debugf(format string, args ...any) {
	if l.log != nil {
		l.log.Debugf(format, args...)
	}
}

func (l *Loop) errf(format string, args ...any) {
	if l.log != nil {
		l.log.Errorf(format, args...)
	}
}

// Run drives the whole session lifecycle until a clean shutdown signal or
// (in inetd mode) the single session tearing down.
func (l *Loop) Run() error {
	l.installSignalHandler()

	if l.inetd {
		l.clientIn = int(os.Stdin.Fd())
		l.clientOut = int(os.Stdout.Fd())
		unix.SetNonblock(l.clientIn, true)
		unix.SetNonblock(l.clientOut, true)
		l.adoptClient()
	} else {
		if err := l.openListener(); err != nil {
			return err
		}
		defer unix.Close(l.listenFd)
	}

	for {
		if l.shutdown.Load() {
			l.teardown()
			return nil
		}

		if l.state == stateDrop {
			l.teardown()
			if l.inetd {
				return nil
			}
		}

		// A just-accepted client moves Connected->Opened here, before the
		// first poll, so the interest computed below already reflects an
		// open device (§4.7).
		if l.state == stateConnected {
			l.tryOpenDevice()
		}

		interest := l.computeInterest()
		if !interest.any() {
			if l.inetd {
				l.teardown()
				return nil
			}
			continue
		}

		fds := l.buildPollSet(interest)
		timeout := l.cfg.PollMillis
		if timeout <= 0 {
			timeout = -1
		}
		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("session: poll: %w", err)
		}

		if n > 0 {
			l.drain(fds)
		}

		l.maybeNotifyModemState()
	}
}

// interestSet mirrors §4.6 step 1's five readiness questions.
type interestSet struct {
	readClient  bool
	readDevice  bool
	accept      bool
	writeDevice bool
	writeClient bool
}

func (i interestSet) any() bool {
	return i.readClient || i.readDevice || i.accept || i.writeDevice || i.writeClient
}

func (l *Loop) computeInterest() interestSet {
	var i interestSet
	deviceOpen := l.device != nil

	if l.sess != nil {
		i.readClient = deviceOpen && l.sess.toDev.HasRoom(telnet.EscRedirectCharDev) && l.sess.toNet.HasRoom(telnet.EscRedirectCharSock)
		i.readDevice = deviceOpen && l.sess.cpcState.InputFlow && l.sess.toNet.HasRoom(telnet.EscWriteChar)
		i.writeDevice = !l.sess.toDev.Empty()
		i.writeClient = !l.sess.toNet.Empty()
	}
	i.accept = !l.inetd && l.listenFd >= 0

	return i
}

// buildPollSet assembles one unix.PollFd per distinct fd that has any
// interest at all; a fd interested in both directions (e.g. the device, or
// a TCP client socket where clientIn == clientOut) gets both bits set on
// a single entry rather than being registered twice.
func (l *Loop) buildPollSet(i interestSet) []unix.PollFd {
	var fds []unix.PollFd

	add := func(fd int, events int16) {
		if fd < 0 || events == 0 {
			return
		}
		for idx := range fds {
			if fds[idx].Fd == int32(fd) {
				fds[idx].Events |= events
				return
			}
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
	}

	if l.device != nil {
		var events int16
		if i.readDevice {
			events |= unix.POLLIN
		}
		if i.writeDevice {
			events |= unix.POLLOUT
		}
		add(l.device.Fd(), events)
	}
	if i.readClient {
		add(l.clientIn, unix.POLLIN)
	}
	if i.writeClient {
		add(l.clientOut, unix.POLLOUT)
	}
	if i.accept {
		add(l.listenFd, unix.POLLIN)
	}

	return fds
}

// revents looks up the accumulated revents bitmask for fd, or 0 if fd had
// no registered interest this iteration.
func revents(fds []unix.PollFd, fd int) int16 {
	if fd < 0 {
		return 0
	}
	for _, pfd := range fds {
		if pfd.Fd == int32(fd) {
			return pfd.Revents
		}
	}
	return 0
}

// drain processes ready fds in the fixed order required by §4.6 step 4:
// device-in, device-out, network-out, network-in, accept.
func (l *Loop) drain(fds []unix.PollFd) {
	deviceFd := -1
	if l.device != nil {
		deviceFd = l.device.Fd()
	}

	if revents(fds, deviceFd)&unix.POLLIN != 0 {
		l.drainDeviceIn()
	}
	if revents(fds, deviceFd)&unix.POLLOUT != 0 {
		l.drainDeviceOut()
	}
	if revents(fds, l.clientOut)&unix.POLLOUT != 0 {
		l.drainNetOut()
	}
	if revents(fds, l.clientIn)&unix.POLLIN != 0 {
		l.drainNetIn()
	}
	if revents(fds, l.listenFd)&unix.POLLIN != 0 {
		l.drainAccept()
	}
}

func (l *Loop) drainDeviceIn() {
	if l.sess == nil || l.device == nil {
		return
	}
	room := l.sess.toNet.Room() / telnet.EscWriteChar
	n := stagingSize
	if room < n {
		n = room
	}
	if n <= 0 {
		return
	}
	buf := make([]byte, n)
	read, err := l.device.Read(buf)
	if err != nil {
		if serialport.IsWouldBlock(err) {
			return
		}
		l.errf("device read failed: %v", err)
		l.state = stateDrop
		return
	}
	binaryOurSide := l.sess.ourSideBinary()
	for _, b := range buf[:read] {
		l.sess.encoder.WriteAppByte(l.sess.toNet, b, binaryOurSide)
	}
}

func (l *Loop) drainDeviceOut() {
	if l.sess == nil || l.device == nil {
		return
	}
	chunk := l.sess.toDev.PeekContiguous()
	if len(chunk) == 0 {
		return
	}
	n, err := l.device.Write(chunk)
	if err != nil && !serialport.IsWouldBlock(err) {
		l.errf("device write failed: %v", err)
		l.state = stateDrop
		return
	}
	l.sess.toDev.AdvanceRead(n)
}

func (l *Loop) drainNetOut() {
	if l.sess == nil || l.clientOut < 0 {
		return
	}
	chunk := l.sess.toNet.PeekContiguous()
	if len(chunk) == 0 {
		return
	}
	n, err := unix.Write(l.clientOut, chunk)
	if err != nil {
		if serialport.IsWouldBlock(err) {
			return
		}
		l.errf("client write failed: %v", err)
		l.state = stateDrop
		return
	}
	l.sess.toNet.AdvanceRead(n)
}

func (l *Loop) drainNetIn() {
	if l.sess == nil || l.clientIn < 0 {
		return
	}
	deviceOpen := l.device != nil
	netRoom := l.sess.toNet.Room() / telnet.EscRedirectCharSock
	devRoom := l.sess.toDev.Room() / telnet.EscRedirectCharDev
	n := stagingSize
	if !deviceOpen {
		n = 0
	}
	if netRoom < n {
		n = netRoom
	}
	if devRoom < n {
		n = devRoom
	}
	if n <= 0 {
		return
	}
	buf := make([]byte, n)
	read, err := unix.Read(l.clientIn, buf)
	if err != nil {
		if serialport.IsWouldBlock(err) {
			return
		}
		l.errf("client read failed: %v", err)
		l.state = stateDrop
		return
	}
	if read == 0 {
		l.debugf("client closed the connection")
		l.state = stateDrop
		return
	}
	for _, b := range buf[:read] {
		l.sess.decoder.Decode(b, l.sess.toDev, &l.sess.table, l.sess.handler)
	}
}

func (l *Loop) drainAccept() {
	newFd, _, err := unix.Accept4(l.listenFd, unix.SOCK_NONBLOCK)
	if err != nil {
		if err != unix.EAGAIN {
			l.errf("accept failed: %v", err)
		}
		return
	}
	if l.state != stateIdle {
		l.logf("rejecting additional connection while a session is active")
		unix.Close(newFd)
		return
	}
	l.clientIn = newFd
	l.clientOut = newFd
	l.adoptClient()
}

// adoptClient re-initializes telnet state and the to_net buffer and sends
// the pre-session option offers, per §4.6's accept step.
func (l *Loop) adoptClient() {
	id := uuid.NewString()
	log := l.log
	if log != nil {
		log = log.With("session", id)
	}
	l.sess = newSession(id, l.cfg.RingBufferCapacity, nil, l.cfg.CiscoIOS, log)
	l.sess.sendInitialNegotiation()
	l.state = stateConnected
	l.logf("client connected, session %s", id)
}

func (l *Loop) tryOpenDevice() {
	adapter, err := l.openDevice(l.cfg.Device, l.cfg.LockFile, l.log)
	if err != nil {
		l.errf("unable to open device %s: %v", l.cfg.Device, err)
		if l.clientOut >= 0 {
			unix.Write(l.clientOut, []byte("Device in use. Come back later.\r\n"))
		}
		l.closeClient()
		l.state = stateIdle
		if l.inetd {
			l.shutdown.Store(true)
		}
		return
	}
	l.device = adapter
	l.sess.handler.Adapter = adapter
	l.state = stateOpened
	l.logf("device %s opened", l.cfg.Device)
}

func (l *Loop) closeClient() {
	if l.clientIn >= 0 {
		unix.Close(l.clientIn)
	}
	if l.clientOut >= 0 && l.clientOut != l.clientIn {
		unix.Close(l.clientOut)
	}
	l.clientIn, l.clientOut = -1, -1
	l.sess = nil
}

// teardown runs the Drop transition (§4.7): close device (restoring
// termios), release the lock, close client sockets, return to Idle or
// exit in inetd mode.
func (l *Loop) teardown() {
	if l.device != nil {
		if err := l.device.Close(); err != nil {
			l.errf("error closing device: %v", err)
		}
		l.device = nil
	}
	l.closeClient()
	l.state = stateIdle
	l.logf("session torn down")
}

func (l *Loop) maybeNotifyModemState() {
	if l.sess == nil || l.device == nil || l.state != stateOpened {
		return
	}
	if !l.sess.cpcState.Enabled || !l.sess.cpcState.InputFlow {
		return
	}
	if !l.sess.toNet.HasRoom(telnet.EscRedirectCharSock) {
		return
	}
	interval := time.Duration(l.cfg.PollMillis) * time.Millisecond
	if interval <= 0 {
		return // poll-ms 0 disables modem-state polling
	}
	if l.cfg.ModemPollJitterMs > 0 {
		// Spread modem-state polling across attached sessions so many
		// gateways on one host don't all probe their line at once.
		interval += time.Duration(rand.Intn(l.cfg.ModemPollJitterMs)) * time.Millisecond
	}
	if time.Since(l.lastModemPoll) < interval {
		return
	}
	l.lastModemPoll = time.Now()

	prev := l.sess.cpcState.ModemState
	cur, err := l.device.ModemState(prev)
	if err != nil {
		l.errf("modem state read failed: %v", err)
		return
	}
	if (cur^prev)&l.sess.cpcState.ModemStateMask != 0 {
		telnet.SendModemStateNotify(l.sess.toNet, cur&l.sess.cpcState.ModemStateMask)
		l.sess.cpcState.ModemState = cur
	}
}

func (l *Loop) openListener() error {
	addr, err := resolveBindAddr(l.cfg.BindAddr, l.cfg.Port)
	if err != nil {
		return err
	}
	family := unix.AF_INET
	if _, ok := addr.(*unix.SockaddrInet6); ok {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("session: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("session: setsockopt: %w", err)
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("session: bind %s:%d: %w", l.cfg.BindAddr, l.cfg.Port, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("session: listen: %w", err)
	}
	l.listenFd = fd
	l.logf("listening on %s:%d", l.cfg.BindAddr, l.cfg.Port)
	return nil
}

func (l *Loop) installSignalHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGABRT, syscall.SIGPIPE, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		for sig := range ch {
			l.debugf("received signal %v, requesting shutdown", sig)
			l.shutdown.Store(true)
		}
	}()
}
