package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEnvList_Add(t *testing.T) {
	var l EnvList
	l.Add(Append("PATH", "/a", ":"))
	l.Add(Set("CC", "clang"))
	l.Add(Append("PATH", "/b", ":"))
	l.Add(Append("PATH", "/a", ":"))
	l.Add(Set("CC", "gcc"))
	l.Add(Prepend("PATH", "/first", ":"))
	l.Add(EnvMutation{Variable: "CFLAGS", Value: "-O2"})
	l.Add(EnvMutation{Variable: "CFLAGS", Value: "-g"})

	want := []EnvMutation{
		{Variable: "PATH", Op: EnvAppend, Value: "/a:/b", Separator: ":"},
		{Variable: "CC", Op: EnvSet, Value: "gcc"},
		{Variable: "PATH", Op: EnvPrepend, Value: "/first", Separator: ":"},
		{Variable: "CFLAGS", Op: EnvAppend, Value: "-O2 -g", Separator: " "},
	}
	if diff := cmp.Diff(want, l.Items()); diff != "" {
		t.Errorf("Items() mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyEnv(t *testing.T) {
	base := []string{"HOME=/home/u", "PATH=/usr/bin", "CFLAGS="}
	muts := []EnvMutation{
		Append("PATH", "/opt/cuda/bin", ":"),
		Prepend("PATH", "/opt/first", ":"),
		Append("CFLAGS", "-F/Library/Frameworks", " "),
		Set("MAKEFLAGS", "-j4"),
		Append("OPENNI2_INCLUDE", "/opt/openni2/include/ni2", " "),
	}

	got := ApplyEnv(base, muts)
	want := []string{
		"HOME=/home/u",
		"PATH=/opt/first:/usr/bin:/opt/cuda/bin",
		"CFLAGS=-F/Library/Frameworks",
		"MAKEFLAGS=-j4",
		"OPENNI2_INCLUDE=/opt/openni2/include/ni2",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ApplyEnv() mismatch (-want +got):\n%s", diff)
	}

	if base[1] != "PATH=/usr/bin" {
		t.Error("ApplyEnv must not modify its input")
	}
}
