package bcformat

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/lstf-lang/lstf/internal/bytecode"
)

// Load parses the binary program format back into a runtime-ready
// Program (spec §4.7): checks the magic header, walks the section table,
// and reconstitutes the function/source-map metadata from the debuginfo
// section. Code and Data are kept as raw bytes; the VM addresses into them
// directly rather than re-parsing them into a structured form.
func Load(raw []byte) (*Program, error) {
	if len(raw) < 8 {
		return nil, ErrTruncatedRead
	}
	if !bytes.Equal(raw[:8], Magic[:]) {
		return nil, ErrInvalidMagic
	}
	if len(raw) < 8+8+1 {
		return nil, ErrTruncatedRead
	}
	entryPoint := binary.BigEndian.Uint64(raw[8:16])

	type tableEntry struct {
		name sectionName
		size uint64
	}
	var entries []tableEntry
	seen := make(map[sectionName]bool)

	pos := 16
	for {
		if pos >= len(raw) {
			return nil, ErrTruncatedRead
		}
		nameEnd := bytes.IndexByte(raw[pos:], 0)
		if nameEnd == -1 {
			return nil, ErrTruncatedRead
		}
		if nameEnd == 0 {
			pos++ // consume the lone terminator byte
			break
		}
		if nameEnd > 128 {
			return nil, ErrTooLongSectionName
		}
		name := sectionName(raw[pos : pos+nameEnd])
		pos += nameEnd + 1

		switch name {
		case sectionDebugInfo, sectionComments, sectionData, sectionCode:
		default:
			return nil, ErrInvalidSectionName
		}
		if seen[name] {
			return nil, ErrInvalidSectionName
		}
		seen[name] = true

		if pos+8 > len(raw) {
			return nil, ErrTruncatedRead
		}
		size := binary.BigEndian.Uint64(raw[pos : pos+8])
		pos += 8
		if size == 0 {
			return nil, ErrZeroSectionSize
		}
		entries = append(entries, tableEntry{name: name, size: size})
	}

	bodies := make(map[sectionName][]byte, len(entries))
	cursor := pos
	for _, e := range entries {
		end := uint64(cursor) + e.size
		if end > uint64(len(raw)) {
			return nil, ErrInvalidSectionSize
		}
		bodies[e.name] = raw[cursor:end]
		cursor = int(end)
	}

	code, ok := bodies[sectionCode]
	if !ok {
		return nil, ErrTruncatedRead
	}
	if entryPoint >= uint64(len(code)) {
		return nil, ErrInvalidSectionSize
	}

	prog := &Program{
		Data:       bodies[sectionData],
		Code:       code,
		EntryPoint: entryPoint,
		SourceMap:  make(map[string][]SourceMapEntry),
	}
	if err := decodeDebugInfo(bodies[sectionDebugInfo], prog); err != nil {
		return nil, err
	}
	return prog, nil
}

// decodeDebugInfo parses the debuginfo payload laid out by encodeDebugInfo:
// a NUL-terminated, align-padded source filename; a flat list of
// {code_offset, line, column} source-map entries; and a flat symbol table
// of {code_offset, name} records, each re-attached to the enclosing
// function by comparing addresses against the symbol table's own code
// offsets (sorted ascending, since functions are emitted back to back).
func decodeDebugInfo(buf []byte, prog *Program) error {
	r := &reader{buf: buf}
	name, err := r.nulName()
	if err != nil {
		return ErrInvalidDebugInfo
	}
	prog.SourceFilename = name

	nEntries, err := r.u64()
	if err != nil {
		return ErrInvalidDebugInfo
	}
	type rawEntry struct {
		off  uint64
		line uint32
		col  uint32
	}
	rawEntries := make([]rawEntry, nEntries)
	for i := range rawEntries {
		off, err := r.u64()
		if err != nil {
			return ErrInvalidDebugInfo
		}
		line, err := r.u32()
		if err != nil {
			return ErrInvalidDebugInfo
		}
		col, err := r.u32()
		if err != nil {
			return ErrInvalidDebugInfo
		}
		rawEntries[i] = rawEntry{off, line, col}
	}

	nSymbols, err := r.u64()
	if err != nil {
		return ErrInvalidDebugInfo
	}
	for i := uint64(0); i < nSymbols; i++ {
		off, err := r.u64()
		if err != nil {
			return ErrInvalidDebugInfo
		}
		sym, err := r.nulName()
		if err != nil {
			return ErrInvalidDebugInfo
		}
		numParams, err := paramCountAt(prog.Code, off)
		if err != nil {
			return ErrInvalidDebugInfo
		}
		prog.Functions = append(prog.Functions, FunctionMeta{Name: sym, CodeOffset: off, NumParams: numParams})
	}

	sort.Slice(prog.Functions, func(i, j int) bool { return prog.Functions[i].CodeOffset < prog.Functions[j].CodeOffset })
	for _, e := range rawEntries {
		idx := sort.Search(len(prog.Functions), func(i int) bool { return prog.Functions[i].CodeOffset > e.off }) - 1
		if idx < 0 {
			continue
		}
		owner := prog.Functions[idx].Name
		prog.SourceMap[owner] = append(prog.SourceMap[owner], SourceMapEntry{CodeOffset: e.off, Line: int(e.line), Column: int(e.col)})
	}
	return nil
}

// paramCountAt reads the parameter count off the OpParams instruction every
// function begins with (spec §4.5), rather than carrying a redundant field
// in the wire format.
func paramCountAt(code []byte, off uint64) (int, error) {
	if off+1 >= uint64(len(code)) {
		return 0, fmt.Errorf("bcformat: function offset %d out of range", off)
	}
	if bytecode.Opcode(code[off]) != bytecode.OpParams {
		return 0, fmt.Errorf("bcformat: function at offset %d does not begin with params", off)
	}
	return int(code[off+1]), nil
}

// reader is a minimal big-endian cursor over a byte slice, used only by
// the debuginfo decoder above.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("bcformat: truncated debuginfo")
	}
	return nil
}

// nulName reads a NUL-terminated string and skips the zero padding out to
// align (spec §4.6's filename/symbol-name encoding).
func (r *reader) nulName() (string, error) {
	idx := bytes.IndexByte(r.buf[r.pos:], 0)
	if idx == -1 {
		return "", fmt.Errorf("bcformat: unterminated name")
	}
	name := string(r.buf[r.pos : r.pos+idx])
	total := idx + 1
	pad := (align - total%align) % align
	if err := r.need(total + pad); err != nil {
		return "", err
	}
	r.pos += total + pad
	return name, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}
