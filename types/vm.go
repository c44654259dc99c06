package types

import "time"

// CreateConfig is the persisted, create-time configuration of a VM.
// It is serialized to TOML in the VM's "config" file.
type CreateConfig struct {
	Name    string `toml:"name"`
	Image   string `toml:"image"`
	CPU     int    `toml:"cpu"`
	Memory  int64  `toml:"memory"`  // bytes
	Storage int64  `toml:"storage"` // primary COW disk size, bytes

	// ExtraDisks are additional backend images attached as disks 1..N.
	ExtraDisks []string `toml:"extra-disks"`

	// CopyInBefore/CopyOutAfter are host:guest path mappings, list-valued so
	// RunConfig composition concatenates create-side and start-side entries.
	CopyInBefore []PathMapping `toml:"copy-in-before"`
	CopyOutAfter []PathMapping `toml:"copy-out-after"`

	// SharedFolders are host:guest directory mappings mounted via sshfs.
	SharedFolders []PathMapping `toml:"shared-folders"`

	// HypervisorArgs are passthrough arguments after "--".
	HypervisorArgs []string `toml:"hypervisor-args"`
}

// StartConfig is the set of start-time-only options; never persisted.
// Scalar fields use pointer "unset sentinel" semantics: nil means "use the
// create-side value", non-nil overrides it.
type StartConfig struct {
	SSHCommand *string `toml:"-"`
	Stateless  *bool   `toml:"-"`

	CopyInBefore []PathMapping `toml:"-"`
	CopyOutAfter []PathMapping `toml:"-"`

	HypervisorArgs []string `toml:"-"`

	ShutdownTimeout *time.Duration `toml:"-"`
	KillAfter       *time.Duration `toml:"-"`
}

// RunConfig is the composition of a CreateConfig and a StartConfig, built by
// Compose. List fields concatenate (create-side first); scalar fields from
// StartConfig override non-null CreateConfig values.
type RunConfig struct {
	CreateConfig

	SSHCommand      string
	Stateless       bool
	ShutdownTimeout time.Duration
	KillAfter       time.Duration
}

// PathMapping is a "<hostPath>:<guestAbsPath>" copy-in/out or shared-folder entry.
type PathMapping struct {
	Host  string `toml:"host"`
	Guest string `toml:"guest"`
}

// Compose builds a RunConfig from a persisted CreateConfig and start-time
// overrides, per spec: list fields concatenate create-then-start; scalar
// fields take the StartConfig value when set, else the CreateConfig value.
func Compose(c CreateConfig, s StartConfig) RunConfig {
	rc := RunConfig{CreateConfig: c}

	rc.CopyInBefore = append(append([]PathMapping{}, c.CopyInBefore...), s.CopyInBefore...)
	rc.CopyOutAfter = append(append([]PathMapping{}, c.CopyOutAfter...), s.CopyOutAfter...)
	rc.HypervisorArgs = append(append([]string{}, c.HypervisorArgs...), s.HypervisorArgs...)

	if s.SSHCommand != nil {
		rc.SSHCommand = *s.SSHCommand
	}
	if s.Stateless != nil {
		rc.Stateless = *s.Stateless
	}
	if s.ShutdownTimeout != nil {
		rc.ShutdownTimeout = *s.ShutdownTimeout
	}
	if s.KillAfter != nil {
		rc.KillAfter = *s.KillAfter
	}
	return rc
}

// VMState is the lifecycle state of a persisted VM as observed by vmstore
// consumers (derived from process liveness, not itself persisted).
type VMState string

const (
	VMStateCreated VMState = "created"
	VMStateRunning VMState = "running"
	VMStateStopped VMState = "stopped"
	VMStateError   VMState = "error"
)

// VMSnapshot is a best-effort, lockless read of a VM directory used by
// listers (vmstore.UnlockedSnapshot).
type VMSnapshot struct {
	Name   string
	State  VMState
	Config CreateConfig
	PID    int
}
