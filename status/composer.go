package status

import "gitlab.com/tinyland/lab/pulsebar/internal/format"

// Layout holds the fixed text placed around and between slot contents.
type Layout struct {
	Begin     string
	Delimiter string
	End       string

	// SkipEmpty drops empty slots together with their delimiter instead of
	// rendering consecutive delimiters.
	SkipEmpty bool
}

// Composer renders the contents of an arena into one bounded status line.
// The line buffer is allocated once and rebuilt on every Render.
type Composer struct {
	arena   *Arena
	line    *Buffer
	begin   []byte
	delim   []byte
	end     []byte
	skip    bool
	visible []Handle
}

// NewComposer creates a composer for arena whose line holds capacity bytes
// (including the reserved terminator byte). Slots registered with zero
// capacity never appear in the line.
func NewComposer(arena *Arena, capacity int, layout Layout) *Composer {
	c := &Composer{
		arena: arena,
		line:  NewBuffer(capacity),
		begin: []byte(layout.Begin),
		delim: []byte(layout.Delimiter),
		end:   []byte(layout.End),
		skip:  layout.SkipEmpty,
	}
	for h := Handle(0); int(h) < arena.Len(); h++ {
		if arena.Capacity(h) > 0 {
			c.visible = append(c.visible, h)
		}
	}
	return c
}

// Capacity returns the line capacity.
func (c *Composer) Capacity() int { return c.line.Cap() }

// Render rebuilds the line from the current slot contents and returns it.
// The returned slice aliases the composer's line buffer and is valid until
// the next Render.
//
// Room for the end marker is reserved before any slot content is copied, so
// the line always ends with the end marker; slot contents and delimiters are
// truncated silently when the line runs out of space.
func (c *Composer) Render() []byte {
	c.line.Reset()
	if c.line.Limit() == 0 {
		return c.line.Bytes()
	}

	c.write(c.begin, c.line.Limit())

	bodyLimit := c.line.Limit() - len(c.end)
	if bodyLimit < c.line.Len() {
		bodyLimit = c.line.Len()
	}

	wrote := false
	for _, h := range c.visible {
		content := c.arena.Content(h)
		if c.skip && len(content) == 0 {
			continue
		}
		if wrote {
			c.write(c.delim, bodyLimit)
		}
		c.write(content, bodyLimit)
		wrote = true
	}

	c.write(c.end, c.line.Limit())
	return c.line.Bytes()
}

// String renders the line and returns a copy of it.
func (c *Composer) String() string {
	return string(c.Render())
}

// write appends as much of p as fits below limit without splitting a rune.
func (c *Composer) write(p []byte, limit int) {
	room := limit - c.line.Len()
	if room <= 0 {
		return
	}
	n := format.FitBytes(p, room)
	_, _ = c.line.Write(p[:n])
}
