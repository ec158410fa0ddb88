// Package env composes the environment handed to managed services.
package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env holds supervisor-wide variables applied on top of the OS environment.
type Env struct {
	Var  Var // global variables (K->V)
	base Var // cached OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromPairs builds an Env from "K=V" entries as they appear in the daemon config.
// Entries without '=' or with an empty key are ignored.
func FromPairs(pairs []string) *Env {
	e := New()
	for _, kv := range pairs {
		if k, v, ok := split(kv); ok {
			e.Var[k] = v
		}
	}
	return e
}

// WithSet returns a copy of e with K=V set.
func (e *Env) WithSet(k, v string) *Env {
	c := &Env{Var: make(Var, len(e.Var)+1), base: e.base}
	for ek, ev := range e.Var {
		c.Var[ek] = ev
	}
	if k != "" {
		c.Var[k] = v
	}
	return c
}

func (e *Env) osBase() Var {
	if e.base != nil {
		return e.base
	}
	base := make(Var)
	for _, kv := range os.Environ() {
		if k, v, ok := split(kv); ok {
			base[k] = v
		}
	}
	return base
}

// Merge composes OS env, then globals, then perService "K=V" overrides, and expands
// ${VAR} references against the composed map (single pass, no recursion).
// The result is sorted by key.
func (e *Env) Merge(perService []string) []string {
	m := make(Var)
	for k, v := range e.osBase() {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for _, kv := range perService {
		if k, v, ok := split(kv); ok {
			m[k] = v
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

func split(kv string) (string, string, bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		name := s[i+2 : i+2+j]
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}
