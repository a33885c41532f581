package vfs

import (
	"bytes"
	"testing"
)

func TestMemFSReadWrite(t *testing.T) {
	fs := NewMemFS(nil)

	f, err := fs.Open("/home/notes.txt", ORdWr|OCreate)
	if err != nil {
		t.Fatal(err)
	}

	if n, err := f.Write([]byte("hello world")); n != 11 || err != nil {
		t.Fatalf("expected to write 11 bytes; got %d, %v", n, err)
	}

	if _, err = f.Seek(6, SeekSet); err != nil {
		t.Fatal(err)
	}

	if n, err := f.Write([]byte("gophers")); n != 7 || err != nil {
		t.Fatalf("expected to write 7 bytes; got %d, %v", n, err)
	}

	if _, err = f.Seek(0, SeekSet); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 64)
	n, err := f.Read(buf)
	if err != nil {
		t.Fatal(err)
	}

	if exp := "hello gophers"; string(buf[:n]) != exp {
		t.Fatalf("expected %q; got %q", exp, buf[:n])
	}

	if n, _ = f.Read(buf); n != 0 {
		t.Fatalf("expected read at EOF to return 0; got %d", n)
	}

	if st := f.Stat(); st.Type != TypeFile || st.Size != 13 {
		t.Errorf("unexpected stat %+v", st)
	}

	if _, err = f.Ioctl(1, 0, 0); err != ErrUnsupported {
		t.Errorf("expected ioctl on a regular file to fail; got %v", err)
	}
}

func TestMemFSOpenErrors(t *testing.T) {
	fs := NewMemFS(nil)
	if err := fs.WriteFile("/etc/motd", []byte("hi")); err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		name   string
		flags  int
		expErr error
	}{
		{"/missing", ORdOnly, ErrNotFound},
		{"/etc", OWrOnly, ErrIsDir},
		{"/etc/motd/x", ORdWr | OCreate, ErrNotDir},
	}

	for specIndex, spec := range specs {
		if _, err := fs.Open(spec.name, spec.flags); err == nil || error(err) != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}

	ro, _ := fs.Open("/etc/motd", ORdOnly)
	if _, err := ro.Write([]byte("x")); err != ErrBadMode {
		t.Errorf("expected write to a read-only file to fail; got %v", err)
	}

	wo, _ := fs.Open("/etc/motd", OWrOnly|OTrunc)
	if _, err := wo.Read(make([]byte, 1)); err != ErrBadMode {
		t.Errorf("expected read from a write-only file to fail; got %v", err)
	}

	if st := wo.Stat(); st.Size != 0 {
		t.Errorf("expected OTrunc to empty the file; size %d", st.Size)
	}
}

func TestMemFSReadDirAndUnlink(t *testing.T) {
	fs := NewMemFS(nil)
	for _, name := range []string{"/bin/shell", "/bin/loop", "/home/readme"} {
		if err := fs.WriteFile(name, []byte(name)); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := fs.ReadDir("/")
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 2 || entries[0].Name != "bin" || entries[0].Type != TypeDir || entries[1].Name != "home" {
		t.Fatalf("unexpected root entries %+v", entries)
	}

	entries, _ = fs.ReadDir("bin")
	if len(entries) != 2 || entries[0].Name != "loop" || entries[0].Size != len("/bin/loop") {
		t.Fatalf("unexpected /bin entries %+v", entries)
	}

	if _, err = fs.ReadDir("/bin/shell"); err != ErrNotDir {
		t.Errorf("expected ErrNotDir; got %v", err)
	}

	if err = fs.Unlink("/bin"); err != ErrBusy {
		t.Errorf("expected removing a non-empty directory to fail; got %v", err)
	}

	if err = fs.Unlink("/bin/shell"); err != nil {
		t.Fatal(err)
	}

	if err = fs.Unlink("/bin/shell"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound; got %v", err)
	}
}

func TestMemFSDevice(t *testing.T) {
	var out bytes.Buffer
	tty := NewTTY("tty0", &out)

	fs := NewMemFS(nil)
	if err := fs.AddDevice("tty0", tty); err != nil {
		t.Fatal(err)
	}

	if err := fs.AddDevice("tty0", tty); err != ErrBusy {
		t.Errorf("expected adding a device twice to fail; got %v", err)
	}

	f, err := fs.Open("tty0", ORdWr)
	if err != nil {
		t.Fatal(err)
	}

	if st := f.Stat(); st.Type != TypeTTY {
		t.Errorf("expected device to report TypeTTY; got %d", st.Type)
	}

	if _, err = f.Write([]byte("ok\n")); err != nil {
		t.Fatal(err)
	}

	if exp := "ok\r\n"; out.String() != exp {
		t.Errorf("expected tty output %q; got %q", exp, out.String())
	}

	if _, err = f.Seek(0, SeekSet); err != ErrInvalidSeek {
		t.Errorf("expected seeking a device to fail; got %v", err)
	}
}
