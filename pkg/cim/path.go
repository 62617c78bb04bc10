package cim

import (
	"strings"
)

// KeyType classifies the literal held by a key binding.
type KeyType uint32

const (
	KeyBoolean KeyType = iota
	KeyString
	KeyNumeric
	KeyReference
)

// KeyBinding is one name=value pair of an instance path.
type KeyBinding struct {
	Name  string  `json:"name"`
	Value string  `json:"value"`
	Type  KeyType `json:"type"`
}

// ObjectPath names a class or instance. The zero value is an uninitialized path.
type ObjectPath struct {
	Host        string       `json:"host,omitempty"`
	Namespace   string       `json:"namespace,omitempty"`
	ClassName   string       `json:"className,omitempty"`
	KeyBindings []KeyBinding `json:"keyBindings,omitempty"`
}

// NewInstancePath builds an instance path in namespace ns.
func NewInstancePath(ns, className string, keys ...KeyBinding) ObjectPath {
	return ObjectPath{Namespace: ns, ClassName: className, KeyBindings: keys}
}

// IsZero reports whether the path was never initialized.
func (p ObjectPath) IsZero() bool {
	return p.Host == "" && p.Namespace == "" && p.ClassName == "" && len(p.KeyBindings) == 0
}

// Key returns the value of the named key binding. Key names compare case-insensitively.
func (p ObjectPath) Key(name string) (KeyBinding, bool) {
	for _, kb := range p.KeyBindings {
		if strings.EqualFold(kb.Name, name) {
			return kb, true
		}
	}
	return KeyBinding{}, false
}

// String renders the path in the untyped WBEM URI form, for example
// //host/root/cimv2:TestClass.Id=1.
func (p ObjectPath) String() string {
	var b strings.Builder
	if p.Host != "" {
		b.WriteString("//")
		b.WriteString(p.Host)
		b.WriteByte('/')
	}
	if p.Namespace != "" {
		b.WriteString(p.Namespace)
		b.WriteByte(':')
	}
	b.WriteString(p.ClassName)
	for i, kb := range p.KeyBindings {
		if i == 0 {
			b.WriteByte('.')
		} else {
			b.WriteByte(',')
		}
		b.WriteString(kb.Name)
		b.WriteByte('=')
		if kb.Type == KeyString || kb.Type == KeyReference {
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(kb.Value, `"`, `\"`))
			b.WriteByte('"')
		} else {
			b.WriteString(kb.Value)
		}
	}
	return b.String()
}
