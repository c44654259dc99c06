package build

import "fmt"

var supportedFormats = map[string]bool{"ext2": true, "ext3": true, "ext4": true, "xfs": true}
var supportedFlags = map[string]bool{"boot": true, "efi": true, "bios_grub": true}

// Check validates every semantic invariant beyond what Parse already
// enforces syntactically: exactly one FROM (first
// instruction), DISK/PARTITION only for "FROM scratch" and always before
// any replay-phase instruction, a mounted root when building from scratch,
// and the supported FORMAT/FLAGS vocabularies.
func Check(prog *Program) error {
	if len(prog.Instructions) == 0 {
		return fmt.Errorf("build: empty Imagefile")
	}

	from, ok := prog.Instructions[0].(From)
	if !ok {
		return fmt.Errorf("build: line %d: first instruction must be FROM", prog.Instructions[0].instrLine())
	}
	for _, instr := range prog.Instructions[1:] {
		if f, ok := instr.(From); ok {
			return fmt.Errorf("build: line %d: duplicate FROM (first at line %d)", f.Line, from.Line)
		}
	}

	scratch := from.Ref == "scratch"

	sawDisk := false
	sawPartition := false
	sawReplay := false
	sawRootMount := false
	maxPartitionIndex := 0

	for _, instr := range prog.Instructions[1:] {
		switch v := instr.(type) {
		case Disk:
			if !scratch {
				return fmt.Errorf("build: line %d: DISK is only valid with FROM scratch", v.Line)
			}
			if sawPartition {
				return fmt.Errorf("build: line %d: DISK must precede any PARTITION", v.Line)
			}
			if sawDisk {
				return fmt.Errorf("build: line %d: duplicate DISK", v.Line)
			}
			sawDisk = true

		case Partition:
			if !scratch {
				return fmt.Errorf("build: line %d: PARTITION is only valid with FROM scratch", v.Line)
			}
			if !sawDisk {
				return fmt.Errorf("build: line %d: PARTITION requires a preceding DISK", v.Line)
			}
			if sawReplay {
				return fmt.Errorf("build: line %d: PARTITION must precede ADD/COPY/RUN/INSPECT", v.Line)
			}
			if v.Index > maxPartitionIndex {
				maxPartitionIndex = v.Index
			}
			if v.Format != nil && !supportedFormats[v.Format.FSName] {
				return fmt.Errorf("build: line %d: unsupported FORMAT %q", v.Line, v.Format.FSName)
			}
			for _, fl := range v.Flags {
				if !supportedFlags[fl] {
					return fmt.Errorf("build: line %d: unsupported FLAGS value %q", v.Line, fl)
				}
			}
			if v.Mount == "/" {
				sawRootMount = true
			}
			sawPartition = true

		case AddCopy:
			sawReplay = true
		case Run:
			sawReplay = true
		case Inspect:
			sawReplay = true
		}
	}

	if scratch {
		if !sawDisk {
			return fmt.Errorf("build: line %d: FROM scratch requires a DISK instruction", from.Line)
		}
		if !sawRootMount {
			return fmt.Errorf("build: line %d: FROM scratch requires a PARTITION mounted at \"/\"", from.Line)
		}
	}

	return nil
}
