package ci

// MaxLogExcerpt caps how much of a job log is kept. The tail is kept because
// error summaries and tracebacks are usually at the end.
const MaxLogExcerpt = 8000

// Tail returns the last n bytes of s, marked as truncated when cut.
func Tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return "…(truncated)\n" + s[len(s)-n:]
}
