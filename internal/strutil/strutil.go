package strutil

// Shrink truncates text to at most maxLength runes, replacing the cut-off
// tail with an ellipsis. Stored failure reasons go through it so a huge
// upstream error message never bloats a row.
func Shrink(text string, maxLength int) string {
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}

	return string(runes[:maxLength-1]) + "…"
}
