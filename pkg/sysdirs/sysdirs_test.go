package sysdirs

import "testing"

func TestDirsLinuxX86_64(t *testing.T) {
	dirs, err := Dirs(Linux, MachineX86_64, Class64, "/lib64/ld-linux-x86-64.so.2")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"/usr/lib/x86_64-linux-gnu",
		"/lib/x86_64-linux-gnu",
		"/usr/lib64",
		"/lib64",
		"/usr/lib",
		"/lib",
	}
	if len(dirs) != len(want) {
		t.Fatalf("got %v, want %v", dirs, want)
	}
	for i := range want {
		if dirs[i] != want[i] {
			t.Errorf("index %d: got %q want %q", i, dirs[i], want[i])
		}
	}
}

func TestDirsMuslCollapsesToLibAndUsrLib(t *testing.T) {
	dirs, err := Dirs(Linux, MachineX86_64, Class64, "/lib/ld-musl-x86_64.so.1")
	if err != nil {
		t.Fatal(err)
	}
	if len(dirs) != 2 || dirs[0] != "/lib" || dirs[1] != "/usr/lib" {
		t.Fatalf("musl target got unexpected dirs: %v", dirs)
	}
}

func TestDirsUnsupportedMachine(t *testing.T) {
	if _, err := Dirs(Linux, MachineUnknown, Class64, ""); err == nil {
		t.Fatal("want error for unsupported machine")
	}
}

func TestSLibDirBSDIsNoop(t *testing.T) {
	if got := SLibDir(FreeBSD, MachineX86_64, Class64); got != "" {
		t.Errorf("want empty $LIB on BSD, got %q", got)
	}
}

func TestSLibDirLinux(t *testing.T) {
	if got := SLibDir(Linux, MachineX86_64, Class64); got != "lib64" {
		t.Errorf("want lib64, got %q", got)
	}
	if got := SLibDir(Linux, MachineX86, Class32); got != "lib" {
		t.Errorf("want lib, got %q", got)
	}
}
