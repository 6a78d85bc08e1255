package store

import "github.com/puzpuzpuz/xsync/v3"

// UserTable maps user names to passwords. Safe for concurrent use.
type UserTable struct {
	m *xsync.MapOf[string, string]
}

// NewUserTable creates an empty table
func NewUserTable() *UserTable {
	return &UserTable{m: xsync.NewMapOf[string, string]()}
}

// Lookup returns the password stored for name
func (t *UserTable) Lookup(name string) (string, bool) {
	return t.m.Load(name)
}

// Insert adds name unless it already exists; it reports whether it did
func (t *UserTable) Insert(name, password string) bool {
	_, loaded := t.m.LoadOrStore(name, password)
	return !loaded
}

// Len returns the number of users
func (t *UserTable) Len() int {
	return t.m.Size()
}

// Range calls f for every user until f returns false
func (t *UserTable) Range(f func(name, password string) bool) {
	t.m.Range(f)
}
