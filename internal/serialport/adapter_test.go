package serialport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sercd-go/sercd/internal/lockfile"
)

// newTestAdapter wires an Adapter around a real kernel pty slave (via
// OpenPTY) instead of a physical tty, the same "real fd, no mock" approach
// loop_test.go takes with pipes. It exercises the repaired pty_linux.go
// machinery (OpenPTY/SetLockPT/GetPTPeer/SetWinSize) for real rather than
// leaving it unreachable reference code.
func newTestAdapter(t *testing.T) (*Adapter, *Port, string) {
	t.Helper()
	master, slave, err := OpenPTY(nil, &Winsize{Row: 24, Col: 80})
	if err != nil {
		t.Fatalf("OpenPTY: %v", err)
	}
	t.Cleanup(func() { master.Close() })

	saved, err := slave.GetAttr()
	if err != nil {
		slave.Close()
		t.Fatalf("GetAttr: %v", err)
	}
	raw := *saved
	raw.MakeRaw()
	raw.Cflag |= HUPCL | CLOCAL
	raw.Iflag |= BRKINT
	if err := slave.SetAttr(TCSANOW, &raw); err != nil {
		slave.Close()
		t.Fatalf("SetAttr: %v", err)
	}

	lockPath := filepath.Join(t.TempDir(), "test.lock")
	lock, err := lockfile.Acquire(lockPath, nil)
	if err != nil {
		slave.Close()
		t.Fatalf("lockfile.Acquire: %v", err)
	}

	return &Adapter{port: slave, deviceName: "pty-test", log: nil, saved: saved, lock: lock}, master, lockPath
}

func TestAdapterOverRealPTY(t *testing.T) {
	adapter, master, lockPath := newTestAdapter(t)

	if err := adapter.SetBaudRate(19200); err != nil {
		t.Fatalf("SetBaudRate: %v", err)
	}
	if rate, err := adapter.BaudRate(); err != nil || rate != 19200 {
		t.Fatalf("BaudRate() = %d, %v, want 19200, nil", rate, err)
	}

	if err := adapter.SetDataSize(7); err != nil {
		t.Fatalf("SetDataSize: %v", err)
	}
	if bits, err := adapter.DataSize(); err != nil || bits != 7 {
		t.Fatalf("DataSize() = %d, %v, want 7, nil", bits, err)
	}

	if err := adapter.SetParity(parityEven); err != nil {
		t.Fatalf("SetParity: %v", err)
	}
	if code, err := adapter.Parity(); err != nil || code != parityEven {
		t.Fatalf("Parity() = %d, %v, want %d, nil", code, err, parityEven)
	}

	if err := adapter.SetBreak(true); err != nil {
		t.Fatalf("SetBreak(true): %v", err)
	}
	if err := adapter.SetBreak(false); err != nil {
		t.Fatalf("SetBreak(false): %v", err)
	}

	if err := adapter.Purge(3); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	if _, err := adapter.ModemState(0); err != nil {
		t.Fatalf("ModemState: %v", err)
	}

	payload := []byte("hello-sercd\n")
	if _, err := master.Write(payload); err != nil {
		t.Fatalf("master.Write: %v", err)
	}
	buf := make([]byte, len(payload))
	n, err := adapter.Read(buf)
	if err != nil {
		t.Fatalf("adapter.Read: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("adapter.Read = %q, want %q", buf[:n], payload)
	}

	if err := adapter.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(lockPath); err == nil {
		t.Fatalf("lock file should have been removed by Close")
	}
}
