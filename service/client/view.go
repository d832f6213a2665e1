package client

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	blue   = color.New(color.FgBlue).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

// View renders server events as coloured lines.
type View struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func NewView(out io.Writer) *View {
	return &View{out: out, now: time.Now}
}

func (v *View) line(icon, format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ts := v.now().Format("15:04:05")
	fmt.Fprintf(v.out, "%s [%s] %s\n", icon, ts, fmt.Sprintf(format, args...))
}

func (v *View) Connected(userID string) { v.line(green("✓"), "Connected as %s", cyan(userID)) }

func (v *View) Broadcast(from, message string, self bool) {
	if self {
		v.line(blue("💬"), "%s (you): %s", cyan(from), message)
		return
	}
	v.line(blue("💬"), "%s: %s", cyan(from), message)
}

func (v *View) Joined(userID string) { v.line(green("→"), "User %s joined", cyan(userID)) }
func (v *View) Left(userID string)   { v.line(yellow("←"), "User %s left", cyan(userID)) }
func (v *View) Error(msg string)     { v.line(red("✗"), "Error: %s", msg) }
func (v *View) Ack(msg string)       { v.line(green("✓"), "Acknowledged: %s", msg) }
func (v *View) Notice(msg string)    { v.line(yellow("⚠"), "%s", msg) }

func (v *View) Unknown(value any) {
	raw, _ := json.Marshal(value)
	v.line(yellow("?"), "Unknown message: %s", raw)
}

func (v *View) Malformed(raw []byte, err error) {
	v.line(red("✗"), "Bad frame %q: %v", raw, err)
}
