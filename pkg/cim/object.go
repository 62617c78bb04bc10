package cim

import "strings"

// Qualifier flavor bits.
const (
	FlavorOverridable     uint32 = 1 << 0
	FlavorToSubclass      uint32 = 1 << 1
	FlavorToInstance      uint32 = 1 << 2
	FlavorTranslatable    uint32 = 1 << 3
	FlavorDisableOverride uint32 = 1 << 4
	FlavorRestricted      uint32 = 1 << 5
)

type Qualifier struct {
	Name       string `json:"name"`
	Value      Value  `json:"value"`
	Flavor     uint32 `json:"flavor,omitempty"`
	Propagated bool   `json:"propagated,omitempty"`
}

type Property struct {
	Name               string      `json:"name"`
	Value              Value       `json:"value"`
	ArraySize          uint32      `json:"arraySize,omitempty"`
	ReferenceClassName string      `json:"referenceClassName,omitempty"`
	ClassOrigin        string      `json:"classOrigin,omitempty"`
	Propagated         bool        `json:"propagated,omitempty"`
	Qualifiers         []Qualifier `json:"qualifiers,omitempty"`
}

// Instance is a CIM instance. Messages hold *Instance so that nil marks an
// absent (uninitialized) instance.
type Instance struct {
	Path       ObjectPath  `json:"path"`
	Qualifiers []Qualifier `json:"qualifiers,omitempty"`
	Properties []Property  `json:"properties,omitempty"`
}

// NewInstance returns an empty instance of className.
func NewInstance(className string) *Instance {
	return &Instance{Path: ObjectPath{ClassName: className}}
}

func (i *Instance) ClassName() string { return i.Path.ClassName }

// FindProperty returns the index of the named property or -1.
func (i *Instance) FindProperty(name string) int {
	for n := range i.Properties {
		if strings.EqualFold(i.Properties[n].Name, name) {
			return n
		}
	}
	return -1
}

// PropertyValue returns the named property's value.
func (i *Instance) PropertyValue(name string) (Value, bool) {
	if n := i.FindProperty(name); n >= 0 {
		return i.Properties[n].Value, true
	}
	return Value{}, false
}

// SetProperty replaces the named property's value, adding the property if needed.
func (i *Instance) SetProperty(name string, v Value) {
	if n := i.FindProperty(name); n >= 0 {
		i.Properties[n].Value = v
		return
	}
	i.Properties = append(i.Properties, Property{Name: name, Value: v})
}

// Clone returns a deep copy of the instance's own slices. Values are shared.
func (i *Instance) Clone() *Instance {
	if i == nil {
		return nil
	}
	out := *i
	out.Path.KeyBindings = append([]KeyBinding(nil), i.Path.KeyBindings...)
	out.Qualifiers = append([]Qualifier(nil), i.Qualifiers...)
	out.Properties = append([]Property(nil), i.Properties...)
	return &out
}

type Parameter struct {
	Name               string      `json:"name"`
	Type               Type        `json:"type"`
	IsArray            bool        `json:"isArray,omitempty"`
	ArraySize          uint32      `json:"arraySize,omitempty"`
	ReferenceClassName string      `json:"referenceClassName,omitempty"`
	Qualifiers         []Qualifier `json:"qualifiers,omitempty"`
}

type Method struct {
	Name        string      `json:"name"`
	Type        Type        `json:"type"`
	ClassOrigin string      `json:"classOrigin,omitempty"`
	Propagated  bool        `json:"propagated,omitempty"`
	Qualifiers  []Qualifier `json:"qualifiers,omitempty"`
	Parameters  []Parameter `json:"parameters,omitempty"`
}

// Class is a CIM class declaration. Nil marks an absent class.
type Class struct {
	Path           ObjectPath  `json:"path"`
	SuperClassName string      `json:"superClassName,omitempty"`
	Qualifiers     []Qualifier `json:"qualifiers,omitempty"`
	Properties     []Property  `json:"properties,omitempty"`
	Methods        []Method    `json:"methods,omitempty"`
}

func (c *Class) ClassName() string { return c.Path.ClassName }

// Object holds either an instance or a class.
type Object struct {
	Instance *Instance `json:"instance,omitempty"`
	Class    *Class    `json:"class,omitempty"`
}

// Path returns the path of whichever side is set.
func (o Object) Path() ObjectPath {
	switch {
	case o.Instance != nil:
		return o.Instance.Path
	case o.Class != nil:
		return o.Class.Path
	}
	return ObjectPath{}
}

// PropertyList restricts the properties returned by an operation. The zero
// value is the null list, meaning all properties.
type PropertyList struct {
	Specified bool     `json:"specified,omitempty"`
	Names     []string `json:"names,omitempty"`
}

// Properties returns a specified list of names.
func Properties(names ...string) PropertyList {
	return PropertyList{Specified: true, Names: names}
}

// Contains reports whether name passes the list.
func (l PropertyList) Contains(name string) bool {
	if !l.Specified {
		return true
	}
	for _, n := range l.Names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// ParamValue is a named method parameter value.
type ParamValue struct {
	Name    string `json:"name"`
	Value   Value  `json:"value"`
	IsTyped bool   `json:"isTyped,omitempty"`
}
