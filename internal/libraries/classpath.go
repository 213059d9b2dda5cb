package libraries

import "strings"

// Classpath is an ordered, duplicate-free list of jar paths. Order matters:
// the runtime resolves classes from the first entry that defines them.
type Classpath struct {
	entries []string
}

// Append adds p at the end unless it is already present. It reports whether
// p was added.
func (c *Classpath) Append(p string) bool {
	if p == "" || c.indexOf(p) >= 0 {
		return false
	}
	c.entries = append(c.entries, p)
	return true
}

// AppendAll appends each path in order.
func (c *Classpath) AppendAll(paths []string) {
	for _, p := range paths {
		c.Append(p)
	}
}

// MoveToEnd places p last, adding it if absent.
func (c *Classpath) MoveToEnd(p string) {
	if i := c.indexOf(p); i >= 0 {
		c.entries = append(c.entries[:i], c.entries[i+1:]...)
	}
	c.entries = append(c.entries, p)
}

// Contains reports whether p is on the classpath.
func (c *Classpath) Contains(p string) bool {
	return c.indexOf(p) >= 0
}

// Entries returns a copy of the ordered paths.
func (c *Classpath) Entries() []string {
	return append([]string(nil), c.entries...)
}

// Len returns the number of entries.
func (c *Classpath) Len() int {
	return len(c.entries)
}

// Join renders the classpath with the platform list separator.
func (c *Classpath) Join(sep string) string {
	return strings.Join(c.entries, sep)
}

func (c *Classpath) indexOf(p string) int {
	for i, e := range c.entries {
		if e == p {
			return i
		}
	}
	return -1
}
