package gtp

import "strings"

// parsePV recognizes principal-variation stderr lines of the engines
// the ogspv option supports and reduces them to a chat-sized summary.
func parsePV(engine, line string) (string, bool) {
	switch strings.ToLower(engine) {
	case "katago":
		// KataGo emits "CHAT:Visits 512 Winrate 54.32% ... PV ..." when
		// ogsChatToStderr is enabled.
		if strings.HasPrefix(line, "CHAT:") {
			return strings.TrimSpace(line[len("CHAT:"):]), true
		}
	case "leelazero", "sai":
		// "D16 ->     512 (V: 54.32%) ... PV: D16 Q4 ..." summary rows
		// and the "Playouts: ..." footer both carry the variation.
		if strings.Contains(line, "PV: ") && (strings.Contains(line, "(V: ") || strings.HasPrefix(line, "Playouts:")) {
			return line, true
		}
	case "phoenixgo":
		if strings.HasPrefix(line, "main move path:") {
			return strings.TrimSpace(line[len("main move path:"):]), true
		}
	}
	return "", false
}
