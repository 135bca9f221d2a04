package vm

import (
	"fmt"
	"sort"
	"strings"
)

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; entry %s\n", p.EntryName()))
	sb.WriteString(fmt.Sprintf("; %d instructions, %d labels, %d functions\n",
		len(p.Instructions), len(p.Labels), len(p.Funcs)))
	writeTable(&sb, "functions", p.Funcs)
	writeTable(&sb, "labels", p.Labels)
	sb.WriteString("\n")

	for addr, in := range p.Instructions {
		switch in.Op {
		case OpLbl, OpFun:
			sb.WriteString(fmt.Sprintf("%s:\n", in.Params[0].Name()))
			continue
		}

		operands := make([]string, len(in.Params))
		for i, v := range in.Params {
			switch {
			case v.Kind() == KindString && (in.Op == OpJmp || in.Op == OpJnz || in.Op == OpJzr || in.Op == OpRun || in.Op == OpTyp):
				operands[i] = v.AsString()
			default:
				operands[i] = v.String()
			}
		}
		line := fmt.Sprintf("%04d    %-4s %s", addr, in.Op, strings.Join(operands, ", "))
		sb.WriteString(fmt.Sprintf("%-40s ; %s", strings.TrimRight(line, " "), in.Pos))
		if in.Origin != nil {
			sb.WriteString(fmt.Sprintf(" (%s)", in.Origin))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func writeTable(sb *strings.Builder, title string, table map[string]int) {
	if len(table) == 0 {
		return
	}
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if table[names[i]] != table[names[j]] {
			return table[names[i]] < table[names[j]]
		}
		return names[i] < names[j]
	})
	sb.WriteString(fmt.Sprintf("; %s:", title))
	for _, name := range names {
		sb.WriteString(fmt.Sprintf(" %s=%04d", name, table[name]))
	}
	sb.WriteString("\n")
}
