//go:build linux
// +build linux

package cgroups

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupFakeMountinfo(t *testing.T, lines ...string) {
	t.Helper()

	fname := filepath.Join(t.TempDir(), "mountinfo")

	if err := os.WriteFile(fname, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	orig := mountinfoFile
	mountinfoFile = fname

	t.Cleanup(func() { mountinfoFile = orig })
}

func writeFile(t *testing.T, fname, data string) {
	t.Helper()

	if err := os.WriteFile(fname, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, fname string) string {
	t.Helper()

	b, err := os.ReadFile(fname)
	if err != nil {
		t.Fatal(err)
	}

	return strings.TrimSpace(string(b))
}

func TestUnifiedHierarchy(t *testing.T) {
	root := t.TempDir()

	setupFakeMountinfo(t,
		"22 1 0:21 / /proc rw,nosuid,nodev,noexec,relatime shared:12 - proc proc rw",
		fmt.Sprintf("35 24 0:30 / %s rw,nosuid,nodev,noexec,relatime shared:9 - cgroup2 cgroup2 rw,nsdelegate", root),
	)

	writeFile(t, filepath.Join(root, "cgroup.controllers"), "cpuset cpu io memory pids")
	writeFile(t, filepath.Join(root, "cgroup.subtree_control"), "")

	if _, _, err := GetSubsystemMountpoint("net_cls"); !IsUnsupportedError(err) {
		t.Fatalf("got unexpected error:\nwant error:\tUnsupportedError\ngot error:\t%v", err)
	}

	m, err := NewManager("unikcache-build", "cpu", "memory")
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	dir := filepath.Join(root, "unikcache-build")

	if p, ok := m.UnifiedPath(); !ok || p != dir {
		t.Fatalf("got unexpected unified path: %q (ok = %v)", p, ok)
	}
	if len(m.Paths()) != 1 {
		t.Fatalf("got %d paths instead of 1", len(m.Paths()))
	}

	// Files that the kernel would create
	writeFile(t, filepath.Join(dir, "cpu.max"), "max 100000")
	writeFile(t, filepath.Join(dir, "memory.max"), "max")

	if q, err := m.GetCpuQuota(); err != nil || q != 0 {
		t.Fatalf("got unexpected result: quota = %d, err = %v", q, err)
	}

	if err := m.SetCpuQuota(50); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}
	if s := readFile(t, filepath.Join(dir, "cpu.max")); s != "50000 100000" {
		t.Fatalf("got invalid cpu.max:\nwant:\t%q\ngot:\t%q", "50000 100000", s)
	}

	if q, err := m.GetCpuQuota(); err != nil || q != 50 {
		t.Fatalf("got unexpected result: quota = %d, err = %v", q, err)
	}

	if err := m.SetMemoryLimit(20 << 20); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}
	if v, err := m.GetMemoryLimit(); err != nil || v != 20<<20 {
		t.Fatalf("got unexpected result: limit = %d, err = %v", v, err)
	}

	if err := m.SetMemoryLimit(0); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}
	if v, err := m.GetMemoryLimit(); err != nil || v != 0 {
		t.Fatalf("got unexpected result: limit = %d, err = %v", v, err)
	}

	if err := m.AddProcess(12345); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}
	if s := readFile(t, filepath.Join(dir, "cgroup.procs")); s != "12345" {
		t.Fatalf("got invalid cgroup.procs: %q", s)
	}
}

func TestLegacyHierarchy(t *testing.T) {
	cpuRoot, memRoot := t.TempDir(), t.TempDir()

	setupFakeMountinfo(t,
		fmt.Sprintf("30 25 0:26 / %s rw,nosuid,nodev,noexec,relatime shared:10 - cgroup cgroup rw,cpu,cpuacct", cpuRoot),
		fmt.Sprintf("31 25 0:27 / %s rw,nosuid,nodev,noexec,relatime shared:11 - cgroup cgroup rw,memory", memRoot),
	)

	if _, _, err := GetSubsystemMountpoint("blkio"); !IsMountpointError(err) {
		t.Fatalf("got unexpected error:\nwant error:\tMountpointError\ngot error:\t%v", err)
	}

	m, err := NewManager("unikcache-build", "cpu", "memory")
	if err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}

	if _, ok := m.UnifiedPath(); ok {
		t.Fatalf("v1 groups must not have a unified path")
	}
	if len(m.Paths()) != 2 {
		t.Fatalf("got %d paths instead of 2", len(m.Paths()))
	}

	cpuDir := filepath.Join(cpuRoot, "unikcache-build")
	memDir := filepath.Join(memRoot, "unikcache-build")

	writeFile(t, filepath.Join(cpuDir, "cpu.cfs_period_us"), "100000")
	writeFile(t, filepath.Join(cpuDir, "cpu.cfs_quota_us"), "-1")
	writeFile(t, filepath.Join(memDir, "memory.limit_in_bytes"), "9223372036854771712")

	if q, err := m.GetCpuQuota(); err != nil || q != 0 {
		t.Fatalf("got unexpected result: quota = %d, err = %v", q, err)
	}
	if v, err := m.GetMemoryLimit(); err != nil || v != 0 {
		t.Fatalf("got unexpected result: limit = %d, err = %v", v, err)
	}

	if err := m.SetCpuQuota(150); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}
	if s := readFile(t, filepath.Join(cpuDir, "cpu.cfs_quota_us")); s != "150000" {
		t.Fatalf("got invalid cpu.cfs_quota_us:\nwant:\t%q\ngot:\t%q", "150000", s)
	}
	if q, err := m.GetCpuQuota(); err != nil || q != 150 {
		t.Fatalf("got unexpected result: quota = %d, err = %v", q, err)
	}

	if err := m.SetMemoryLimit(20 << 20); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}
	if s := readFile(t, filepath.Join(memDir, "memory.limit_in_bytes")); s != "20971520" {
		t.Fatalf("got invalid memory.limit_in_bytes: %q", s)
	}

	if err := m.AddProcess(4242); err != nil {
		t.Fatalf("got unexpected error: %s", err)
	}
	for _, dir := range []string{cpuDir, memDir} {
		if s := readFile(t, filepath.Join(dir, "cgroup.procs")); s != "4242" {
			t.Fatalf("got invalid cgroup.procs in %s: %q", dir, s)
		}
	}
}
