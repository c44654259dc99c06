package types

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestComposeConcatenatesListFieldsCreateThenStart(t *testing.T) {
	create := CreateConfig{
		Name:           "vm1",
		CopyInBefore:   []PathMapping{{Host: "/a", Guest: "/b"}},
		HypervisorArgs: []string{"-enable-kvm"},
	}
	start := StartConfig{
		CopyInBefore:   []PathMapping{{Host: "/c", Guest: "/d"}},
		HypervisorArgs: []string{"-cpu", "host"},
	}

	got := Compose(create, start)
	want := RunConfig{
		CreateConfig: CreateConfig{
			Name:           "vm1",
			CopyInBefore:   []PathMapping{{Host: "/a", Guest: "/b"}},
			HypervisorArgs: []string{"-enable-kvm", "-cpu", "host"},
		},
	}
	want.CopyInBefore = []PathMapping{{Host: "/a", Guest: "/b"}, {Host: "/c", Guest: "/d"}}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Compose() mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeScalarOverridesOnlyWhenSet(t *testing.T) {
	create := CreateConfig{Name: "vm1"}
	shutdown := 5 * time.Second
	start := StartConfig{ShutdownTimeout: &shutdown}

	got := Compose(create, start)
	if got.Stateless {
		t.Errorf("Stateless should stay false when StartConfig leaves it unset")
	}
	if got.ShutdownTimeout != shutdown {
		t.Errorf("ShutdownTimeout = %v, want %v", got.ShutdownTimeout, shutdown)
	}
}
