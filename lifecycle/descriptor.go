package lifecycle

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/transientvm/transient/types"
)

// publishDescriptor encodes desc as base64-wrapped JSON and writes it into
// f at offset 0, matching the wire format discovery.ScanOnce expects. f is
// left open: descriptorFile's backing store, not an open write end, is what
// makes the bytes readable by other processes.
func publishDescriptor(f *os.File, desc types.RunningInstance) error {
	desc.ControllerPID = os.Getpid()
	raw, err := json.Marshal(&desc)
	if err != nil {
		return fmt.Errorf("lifecycle: encode descriptor: %w", err)
	}
	enc := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(enc, raw)
	if _, err := f.WriteAt(enc, 0); err != nil {
		return fmt.Errorf("lifecycle: write descriptor: %w", err)
	}
	return nil
}
