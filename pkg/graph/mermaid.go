package graph

import (
	"fmt"
	"strings"
)

// Mermaid renders m as a Mermaid flowchart. Shapes follow the state kind:
// initial ((circle)), final (((double circle))), continuation [[subroutine]],
// fan-in [/trapezoid\] and plain [rectangle]. Pseudo states are omitted.
func Mermaid(m *Machine) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, s := range m.States() {
		id := sanitizeMermaidID(s.Name)

		opener, closer := "[", "]"
		switch {
		case s.Initial:
			opener, closer = "((", "))"
		case s.Final:
			opener, closer = "(((", ")))"
		case s.Continuation:
			opener, closer = "[[", "]]"
		case s.IsFanIn():
			opener, closer = "[/", "\\]"
		}

		label := s.Name
		if s.IsFanIn() {
			label = fmt.Sprintf("%s <br/> fan-in %s", s.Name, s.FanIn)
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", id, opener, label, closer))

		for _, event := range s.Events() {
			t := s.Transitions[event]
			if t.Target.IsPseudo() {
				continue
			}
			arrow := fmt.Sprintf("-- \"%s\" -->", event)
			if t.Countdown > 0 {
				arrow = fmt.Sprintf("-. \"%s (%s)\" .->", event, t.Countdown)
			}
			sb.WriteString(fmt.Sprintf("    %s %s %s\n", id, arrow, sanitizeMermaidID(t.Target.Name)))
		}
	}
	return sb.String()
}

func sanitizeMermaidID(id string) string {
	return strings.ReplaceAll(id, "-", "_")
}
