package types

// RunningInstance is the JSON blob published into the hypervisor process
// environment via a passed-through file descriptor, so peer invocations of
// the tool can discover a running VM via /proc without a shared daemon.
type RunningInstance struct {
	Name          string `json:"name"`
	VmstorePath   string `json:"vmstore_path"`
	PrimaryImage  string `json:"primary_image"`
	Stateless     bool   `json:"stateless"`
	ControllerPID int    `json:"controller_pid"`
	SSHPort       int    `json:"ssh_port,omitempty"`
}

// BuildConfig is the validated option bag for "image build".
type BuildConfig struct {
	ImagefilePath string
	ContextDir    string
	// Local, when true, leaves the built qcow2 in ContextDir instead of
	// promoting it to the backend store.
	Local      bool
	OutputName string
}
