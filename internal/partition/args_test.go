package partition

import (
	"strings"
	"testing"

	"github.com/Iron-Ham/dysche/internal/errors"
	"github.com/Iron-Ham/dysche/internal/layout"
)

func TestParseArgs(t *testing.T) {
	cfg, err := ParseArgs(`slave_name=vm0 memory=64M@0x80000000,16M@0x90000000 cpu_ids=3,2 kernel=/img/k rootfs=/img/r fdt=/img/d ostype=linux cmdline="console=ttyS0 quiet"`, 4)
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if cfg.Name != "vm0" || cfg.OSType != OSLinux {
		t.Errorf("name/ostype = %q/%v", cfg.Name, cfg.OSType)
	}
	if len(cfg.CPUs) != 2 || cfg.CPUs[0] != 2 || cfg.CPUs[1] != 3 {
		t.Errorf("CPUs = %v", cfg.CPUs)
	}
	want := []layout.Range{{Size: 64 << 20, Addr: 0x80000000}, {Size: 16 << 20, Addr: 0x90000000}}
	if len(cfg.Ranges) != 2 || cfg.Ranges[0] != want[0] || cfg.Ranges[1] != want[1] {
		t.Errorf("Ranges = %v", cfg.Ranges)
	}
	if cfg.Kernel != "/img/k" || cfg.Rootfs != "/img/r" || cfg.FDT != "/img/d" {
		t.Errorf("paths = %q %q %q", cfg.Kernel, cfg.Rootfs, cfg.FDT)
	}
	if got := cfg.EffectiveCmdline(); got != "console=ttyS0 quiet dysche_mode " {
		t.Errorf("EffectiveCmdline = %q", got)
	}
}

func TestParseArgs_Defaults(t *testing.T) {
	cfg, err := ParseArgs("slave_name=a memory=256M@0x80000000 cpu_ids=0 ostype=rtos", 1)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OSType != OSOther {
		t.Errorf("OSType = %v", cfg.OSType)
	}
	if cfg.EffectiveCmdline() != Marker {
		t.Errorf("empty cmdline gives %q", cfg.EffectiveCmdline())
	}
	if cfg.Kernel != "" {
		t.Errorf("Kernel = %q", cfg.Kernel)
	}
}

func TestParseArgs_Errors(t *testing.T) {
	base := "memory=64M@0x80000000 cpu_ids=0"
	tests := []struct {
		name    string
		request string
		kind    error
	}{
		{"empty", "   ", errors.ErrInvalidArgument},
		{"unknown key", "slave_name=a " + base + " color=red", errors.ErrInvalidArgument},
		{"no equals", "slave_name=a " + base + " kernel", errors.ErrInvalidArgument},
		{"empty value", "slave_name= " + base, errors.ErrInvalidArgument},
		{"duplicate key", "slave_name=a slave_name=b " + base, errors.ErrInvalidArgument},
		{"missing name", base, errors.ErrInvalidArgument},
		{"missing memory", "slave_name=a cpu_ids=0", errors.ErrInvalidArgument},
		{"missing cpus", "slave_name=a memory=64M@0x80000000", errors.ErrInvalidArgument},
		{"long name", "slave_name=" + strings.Repeat("n", MaxNameLen+1) + " " + base, errors.ErrInvalidArgument},
		{"long cmdline", "slave_name=a " + base + " cmdline=" + strings.Repeat("c", MaxCmdlineLen+1), errors.ErrInvalidArgument},
		{"bad range", "slave_name=a memory=64M cpu_ids=0", errors.ErrInvalidArgument},
		{"overlapping ranges", "slave_name=a memory=64M@0x80000000,1M@0x80100000 cpu_ids=0", errors.ErrInvalidArgument},
		{"five ranges", "slave_name=a memory=1M@0x1000000,1M@0x2000000,1M@0x3000000,1M@0x4000000,1M@0x5000000 cpu_ids=0", errors.ErrInvalidArgument},
		{"bad cpu list", "slave_name=a memory=64M@0x80000000 cpu_ids=x", errors.ErrInvalidArgument},
		{"cpu not possible", "slave_name=a memory=64M@0x80000000 cpu_ids=99", errors.ErrOverflow},
		{"unterminated quote", `slave_name=a ` + base + ` cmdline="console`, errors.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.request, 4)
			if !errors.Is(err, tt.kind) {
				t.Fatalf("ParseArgs(%q) = %v, want %v", tt.request, err, tt.kind)
			}
		})
	}
}

func TestParseArgs_CPUOverflowIsInvalidArgument(t *testing.T) {
	_, err := ParseArgs("slave_name=a memory=64M@0x80000000 cpu_ids=2-5", 4)
	if !errors.Is(err, errors.ErrInvalidArgument) || !errors.Is(err, errors.ErrOverflow) {
		t.Fatalf("err = %v", err)
	}
}

func TestTokenize(t *testing.T) {
	got, err := tokenize(" a=1\tb=\"x y\"  c=\"\" ")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a=1", "b=x y", "c="}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("tokenize = %q", got)
	}
}
