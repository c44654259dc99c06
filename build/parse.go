package build

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var sizeRe = regexp.MustCompile(`^(\d+)(Mb|Gb|M|G)$`)

// Parse turns lexed lines into a Program. It performs only syntactic
// validation (token shapes); semantic invariants are Check's job.
func Parse(lines []Line) (*Program, error) {
	prog := &Program{}
	for _, ln := range lines {
		instr, err := parseLine(ln)
		if err != nil {
			return nil, err
		}
		prog.Instructions = append(prog.Instructions, instr)
	}
	return prog, nil
}

func parseLine(ln Line) (Instruction, error) {
	kw := strings.ToUpper(ln.Tokens[0])
	args := ln.Tokens[1:]
	b := base{Line: ln.Number}

	switch kw {
	case "FROM":
		if len(args) != 1 {
			return nil, fmt.Errorf("build: line %d: FROM takes exactly one argument", ln.Number)
		}
		return From{base: b, Ref: args[0]}, nil

	case "DISK":
		if len(args) != 2 {
			return nil, fmt.Errorf("build: line %d: DISK takes <size> <GPT|MBR>", ln.Number)
		}
		size, err := parseSize(args[0])
		if err != nil {
			return nil, fmt.Errorf("build: line %d: %w", ln.Number, err)
		}
		label := strings.ToUpper(args[1])
		if label != "GPT" && label != "MBR" {
			return nil, fmt.Errorf("build: line %d: DISK label must be GPT or MBR, got %q", ln.Number, args[1])
		}
		return Disk{base: b, SizeBytes: size, Label: label}, nil

	case "PARTITION":
		return parsePartition(b, ln.Number, args)

	case "ADD", "COPY":
		if len(args) < 2 {
			return nil, fmt.Errorf("build: line %d: %s takes one or more sources and a destination", ln.Number, kw)
		}
		return AddCopy{base: b, Copy: kw == "COPY", Sources: args[:len(args)-1], Dest: args[len(args)-1]}, nil

	case "RUN":
		if len(args) != 1 {
			return nil, fmt.Errorf("build: line %d: RUN takes a command", ln.Number)
		}
		return Run{base: b, Command: args[0]}, nil

	case "INSPECT":
		if len(args) != 0 {
			return nil, fmt.Errorf("build: line %d: INSPECT takes no arguments", ln.Number)
		}
		return Inspect{base: b}, nil

	default:
		return nil, fmt.Errorf("build: line %d: unknown instruction %q", ln.Number, ln.Tokens[0])
	}
}

func parsePartition(b base, lineNum int, args []string) (Instruction, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("build: line %d: PARTITION takes an index", lineNum)
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("build: line %d: PARTITION index %q is not an integer", lineNum, args[0])
	}
	p := Partition{base: b, Index: index}

	rest := args[1:]
	for len(rest) > 0 {
		clause := strings.ToUpper(rest[0])
		switch clause {
		case "SIZE":
			if len(rest) < 2 {
				return nil, fmt.Errorf("build: line %d: SIZE requires a value", lineNum)
			}
			size, err := parseSize(rest[1])
			if err != nil {
				return nil, fmt.Errorf("build: line %d: %w", lineNum, err)
			}
			p.Size = &Size{Bytes: size}
			rest = rest[2:]

		case "FORMAT":
			if len(rest) < 2 {
				return nil, fmt.Errorf("build: line %d: FORMAT requires a filesystem name", lineNum)
			}
			f := &Format{FSName: strings.ToLower(rest[1])}
			rest = rest[2:]
			if len(rest) >= 2 && strings.EqualFold(rest[0], "OPTIONS") {
				f.Options = rest[1]
				rest = rest[2:]
			}
			p.Format = f

		case "MOUNT":
			if len(rest) < 2 {
				return nil, fmt.Errorf("build: line %d: MOUNT requires a path", lineNum)
			}
			p.Mount = rest[1]
			rest = rest[2:]

		case "FLAGS":
			if len(rest) < 2 {
				return nil, fmt.Errorf("build: line %d: FLAGS requires at least one flag", lineNum)
			}
			p.Flags = strings.Split(rest[1], ",")
			rest = rest[2:]

		default:
			return nil, fmt.Errorf("build: line %d: unexpected PARTITION clause %q", lineNum, rest[0])
		}
	}
	return p, nil
}

func parseSize(tok string) (int64, error) {
	m := sizeRe.FindStringSubmatch(tok)
	if m == nil {
		return 0, fmt.Errorf("invalid size %q (want e.g. 512Mb, 10Gb)", tok)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", tok, err)
	}
	unit := strings.ToUpper(m[2])[:1]
	switch unit {
	case "M":
		return n * 1024 * 1024, nil
	case "G":
		return n * 1024 * 1024 * 1024, nil
	default:
		return 0, fmt.Errorf("invalid size unit in %q", tok)
	}
}
