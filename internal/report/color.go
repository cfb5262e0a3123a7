package report

// ANSI escapes used for the Wide format's library column, grounded in
// original_source/src/main/util/Colors.h's error-highlight color, enabled
// only when Options.Colorize is set (cmd/checklink sets it from the
// --colorize flag or the colorize config key; it does not detect a TTY).
const (
	colorForLib = "\x1b[31m"
	colorOff    = "\x1b[0m"
)
